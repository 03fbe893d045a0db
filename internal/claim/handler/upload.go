package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/gin-gonic/gin"
)

// fileField binds a multipart field to the attachment type of its files.
type fileField struct {
	name string
	kind entity.AttachmentType
}

var (
	evidenceFields = []fileField{
		{"damageFiles", entity.AttachmentDamageImage},
		{"estimateFiles", entity.AttachmentEstimateDoc},
		{"otherFiles", entity.AttachmentOtherDocument},
	}
	confirmFields = []fileField{
		{"confirmationFiles", entity.AttachmentUserConfirmDoc},
		{"files", entity.AttachmentUserConfirmDoc},
	}
)

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// openedFiles keeps the multipart files open until the service is done with them.
type openedFiles []io.Closer

func (o openedFiles) Close() {
	for _, f := range o {
		f.Close()
	}
}

// readUploads opens the files of the given fields. The caller closes the result.
func (h *ClaimHandler) readUploads(c *gin.Context, fields []fileField) ([]service.Upload, openedFiles, error) {
	if !isMultipart(c) {
		return nil, nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: "无法解析上传文件: " + err.Error()}
	}

	var uploads []service.Upload
	var opened openedFiles
	for _, f := range fields {
		for _, fh := range form.File[f.name] {
			up, err := h.open(fh, f.kind)
			if err != nil {
				opened.Close()
				return nil, nil, err
			}
			opened = append(opened, up.Body.(io.Closer))
			uploads = append(uploads, up)
		}
	}
	return uploads, opened, nil
}

func (h *ClaimHandler) open(fh *multipart.FileHeader, kind entity.AttachmentType) (service.Upload, error) {
	if fh.Size > h.maxUpload {
		return service.Upload{}, &workflow.Error{Kind: workflow.ErrValidation,
			Reason: fmt.Sprintf("%s exceeds the %d MB limit", fh.Filename, h.maxUpload>>20), Fields: []string{string(kind)}}
	}
	src, err := fh.Open()
	if err != nil {
		return service.Upload{}, fmt.Errorf("读取上传文件失败: %w", err)
	}
	return service.Upload{
		Type:        kind,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        src,
	}, nil
}

// formJSON decodes a JSON document sent as a multipart form value.
func formJSON(c *gin.Context, key string, v interface{}) (bool, error) {
	raw := c.PostForm(key)
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, &workflow.Error{Kind: workflow.ErrValidation, Reason: "invalid " + key + ": " + err.Error(), Fields: []string{key}}
	}
	return true, nil
}

func formBool(c *gin.Context, key string) bool {
	switch strings.ToLower(c.PostForm(key)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
