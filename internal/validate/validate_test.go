package validate

import (
	"testing"

	"github.com/unihub-app/unihub/backend/internal/models"
)

func TestStruct_SendMessageRequest(t *testing.T) {
	v := New()

	cases := []struct {
		name     string
		req      models.SendMessageRequest
		wantErrs int
	}{
		{
			name: "text message",
			req:  models.SendMessageRequest{Body: "hello", Kind: models.KindText},
		},
		{
			name: "file message without body",
			req: models.SendMessageRequest{
				Kind:     models.KindFile,
				FileURL:  "https://proj.supabase.co/storage/v1/object/public/attachments/f.png",
				FileName: "f.png",
				FileSize: 1024,
			},
		},
		{
			name:     "empty body and no file",
			req:      models.SendMessageRequest{Kind: models.KindText},
			wantErrs: 1,
		},
		{
			name:     "unknown kind",
			req:      models.SendMessageRequest{Body: "hi", Kind: "sticker"},
			wantErrs: 1,
		},
		{
			name:     "malformed file url",
			req:      models.SendMessageRequest{Kind: models.KindFile, FileURL: "not a url"},
			wantErrs: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := v.Struct(tc.req)
			if len(errs) != tc.wantErrs {
				t.Fatalf("got %d validation errors (%v), want %d", len(errs), errs, tc.wantErrs)
			}
		})
	}
}
