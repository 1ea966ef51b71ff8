package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return &Client{Send: make(chan []byte, 8)}
}

func Test_Registry_Join_And_Members(t *testing.T) {
	req := require.New(t)
	reg := NewRoomRegistry()
	a, b := testClient(), testClient()

	reg.Join(a, 1)
	reg.Join(b, 1)
	reg.Join(b, 2)

	req.ElementsMatch([]*Client{a, b}, reg.Members(1))
	req.ElementsMatch([]*Client{b}, reg.Members(2))
	req.ElementsMatch([]int{1, 2}, reg.Rooms(b))
}

func Test_Registry_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	reg := NewRoomRegistry()
	a := testClient()

	reg.Join(a, 1)
	reg.Join(a, 1)

	req.Len(reg.Members(1), 1)
}

func Test_Registry_Leave_Removes_One_Room(t *testing.T) {
	req := require.New(t)
	reg := NewRoomRegistry()
	a := testClient()

	reg.Join(a, 1)
	reg.Join(a, 2)
	reg.Leave(a, 1)

	req.Empty(reg.Members(1))
	req.ElementsMatch([]*Client{a}, reg.Members(2))
	req.ElementsMatch([]int{2}, reg.Rooms(a))
}

func Test_Registry_Drop_Removes_Everywhere(t *testing.T) {
	req := require.New(t)
	reg := NewRoomRegistry()
	a, b := testClient(), testClient()

	reg.Join(a, 1)
	reg.Join(a, 2)
	reg.Join(b, 2)
	reg.Drop(a)

	req.Empty(reg.Members(1))
	req.ElementsMatch([]*Client{b}, reg.Members(2))
	req.Empty(reg.Rooms(a))
}

func Test_Registry_Leave_Unjoined_Room_Is_Noop(t *testing.T) {
	req := require.New(t)
	reg := NewRoomRegistry()
	a := testClient()

	reg.Leave(a, 7)
	reg.Drop(a)

	req.Empty(reg.Members(7))
}
