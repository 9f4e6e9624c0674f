package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func buildPhotoForm(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close form writer: %v", err)
	}

	return &buf, writer.FormDataContentType()
}

func TestUploadRoutinePhotoEndpoint(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	t.Cleanup(cleanup)

	routine := createTestRoutineViaAPI(t, api, "晨间例行")
	idParam := strconv.Itoa(int(routine.ID))

	body, contentType := buildPhotoForm(t, "card.png", "image/png", encodeTestPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/api/routines/"+idParam+"/photos", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: idParam}}
	api.UploadRoutinePhoto(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Photo struct {
			Key         string `json:"key"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			SizeBytes   int64  `json:"size_bytes"`
			ContentType string `json:"content_type"`
		} `json:"photo"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.Photo.Key, "photos/"+idParam+"/") || !strings.HasSuffix(resp.Photo.Key, ".png") {
		t.Fatalf("unexpected photo key: %s", resp.Photo.Key)
	}
	if resp.Photo.Width != 2 || resp.Photo.Height != 2 {
		t.Fatalf("unexpected dimensions: %+v", resp.Photo)
	}
	if resp.Photo.ContentType != "image/png" || resp.Photo.SizeBytes == 0 {
		t.Fatalf("unexpected photo meta: %+v", resp.Photo)
	}

	// 照片已写入对象存储
	if _, err := api.store.Head(context.Background(), resp.Photo.Key); err != nil {
		t.Fatalf("expected photo in store: %v", err)
	}
}

func TestUploadRoutinePhotoEndpointValidation(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	t.Cleanup(cleanup)

	routine := createTestRoutineViaAPI(t, api, "晨间例行")
	idParam := strconv.Itoa(int(routine.ID))
	pngData := encodeTestPNG(t)

	// 非图片类型
	body, contentType := buildPhotoForm(t, "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/routines/"+idParam+"/photos", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: idParam}}
	api.UploadRoutinePhoto(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for non-image, got %d", w.Code)
	}

	// 声称是图片但内容损坏
	body, contentType = buildPhotoForm(t, "card.png", "image/png", []byte("not a real png"))
	req = httptest.NewRequest(http.MethodPost, "/api/routines/"+idParam+"/photos", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: idParam}}
	api.UploadRoutinePhoto(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for corrupt image, got %d", w.Code)
	}

	// 缺少文件字段
	var empty bytes.Buffer
	writer := multipart.NewWriter(&empty)
	writer.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/routines/"+idParam+"/photos", &empty)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: idParam}}
	api.UploadRoutinePhoto(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing file, got %d", w.Code)
	}

	// 清单不存在
	body, contentType = buildPhotoForm(t, "card.png", "image/png", pngData)
	req = httptest.NewRequest(http.MethodPost, "/api/routines/999/photos", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{gin.Param{Key: "id", Value: "999"}}
	api.UploadRoutinePhoto(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}
