package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"mymove-wizard/internal/wizard"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadVideo streams file to the video service as multipart field "file".
// Uploads are never retried.
func (c *Client) UploadVideo(ctx context.Context, file wizard.VideoFile) (wizard.Video, error) {
	if file.Content == nil {
		return wizard.Video{}, fmt.Errorf("upload video: empty content")
	}
	name := filepath.Base(strings.TrimSpace(file.Name))
	if name == "." || name == "/" || name == "" {
		name = "video"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeFilePart(mw, name, contentType, file.Content)
		if closeErr := mw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/videos/upload", pr)
	if err != nil {
		return wizard.Video{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out wizard.Video
	if err := c.send(req, &out); err != nil {
		return wizard.Video{}, err
	}
	return out, nil
}

func writeFilePart(mw *multipart.Writer, name, contentType string, content io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}
