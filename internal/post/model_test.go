package post

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsToText(t *testing.T) {
	req := &CreateRequest{Content: "hello world"}
	require.NoError(t, req.Validate())
	require.Equal(t, KindText, req.PostType)
}

func TestValidateTextRequiresContent(t *testing.T) {
	req := &CreateRequest{PostType: KindText, Content: "   "}
	require.Error(t, req.Validate())
}

func TestValidateImageRequiresImage(t *testing.T) {
	require.Error(t, (&CreateRequest{PostType: KindImage}).Validate())
	require.NoError(t, (&CreateRequest{PostType: KindImage, Image: "posts/images/cat.png"}).Validate())
}

func TestValidateVideoRequiresVideo(t *testing.T) {
	require.Error(t, (&CreateRequest{PostType: KindVideo}).Validate())
	require.NoError(t, (&CreateRequest{PostType: KindVideo, Video: "posts/videos/dog.mp4"}).Validate())
}

func TestValidatePollNeedsTwoOptions(t *testing.T) {
	req := &CreateRequest{PostType: KindPoll, PollOptions: []string{"only one"}}
	require.Error(t, req.Validate())

	req = &CreateRequest{PostType: KindPoll, PollOptions: []string{"yes", "no"}}
	require.NoError(t, req.Validate())
}

func TestValidatePollTrimsBlankOptions(t *testing.T) {
	req := &CreateRequest{PostType: KindPoll, PollOptions: []string{"  yes  ", "", "   ", "no"}}
	require.NoError(t, req.Validate())
	require.Equal(t, []string{"yes", "no"}, req.PollOptions)
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	require.Error(t, (&CreateRequest{PostType: "story"}).Validate())
}
