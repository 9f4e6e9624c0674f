package handler

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	// 注册打卡照片支持的图片格式
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/routinecard/internal/blob"
)

// maxPhotoBytes 单张卡片照片的大小上限
const maxPhotoBytes = 10 << 20

// UploadRoutinePhoto 接收卡片照片并写入对象存储。
// 照片此时尚未关联打卡：识别确认后随纸质打卡一起落库，过期清理以那一步的时间为准。
func (a *API) UploadRoutinePhoto(c *gin.Context) {
	routineID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的清单ID")
		return
	}

	if _, err := a.routines.Get(routineID); err != nil {
		handleRoutineError(c, err)
		return
	}

	file, err := c.FormFile("photo")
	if err != nil {
		respondError(c, http.StatusBadRequest, "未找到上传的照片")
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		respondError(c, http.StatusBadRequest, "只允许上传图片文件")
		return
	}
	if file.Size > maxPhotoBytes {
		respondError(c, http.StatusBadRequest, "照片大小超出限制")
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取照片失败")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxPhotoBytes+1))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取照片失败")
		return
	}
	if len(data) > maxPhotoBytes {
		respondError(c, http.StatusBadRequest, "照片大小超出限制")
		return
	}

	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无法识别的图片格式")
		return
	}

	ext := map[string]string{"jpeg": ".jpg", "png": ".png", "webp": ".webp"}[format]
	if ext == "" {
		respondError(c, http.StatusBadRequest, "不支持的图片格式")
		return
	}

	key := fmt.Sprintf("photos/%d/%s-%s%s", routineID, time.Now().Format("20060102"), uuid.New().String(), ext)
	info, err := a.store.Put(c.Request.Context(), key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "image/" + format,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存照片失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"photo": gin.H{
			"key":          info.Key,
			"url":          blob.PublicURL(c.Request.Context(), a.store, info),
			"width":        config.Width,
			"height":       config.Height,
			"size_bytes":   info.Size,
			"content_type": info.ContentType,
		},
	})
}
