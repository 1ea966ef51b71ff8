package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Extract_Mentions_In_Order(t *testing.T) {
	req := require.New(t)
	req.Equal([]string{"bob", "carol"}, ExtractMentions("hi @bob and @carol"))
}

func Test_Extract_Mentions_Keeps_Duplicates(t *testing.T) {
	req := require.New(t)
	req.Equal([]string{"bob", "bob"}, ExtractMentions("@bob please ping @bob"))
}

func Test_Extract_Mentions_None(t *testing.T) {
	req := require.New(t)
	req.Empty(ExtractMentions("no handles here, not even an at sign"))
}

func Test_Extract_Mentions_Punctuation_Boundary(t *testing.T) {
	req := require.New(t)
	req.Equal([]string{"dana"}, ExtractMentions("thanks, @dana!"))
}

func Test_Extract_Mentions_Underscore_And_Digits(t *testing.T) {
	req := require.New(t)
	req.Equal([]string{"user_42"}, ExtractMentions("cc @user_42"))
}

func Test_Extract_Mentions_Bare_At_Ignored(t *testing.T) {
	req := require.New(t)
	req.Empty(ExtractMentions("meet @ noon"))
}
