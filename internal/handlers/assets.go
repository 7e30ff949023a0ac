package handlers

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"nonlinear-editor-backend/internal/format"
	"nonlinear-editor-backend/internal/models"
	"nonlinear-editor-backend/internal/services"
)

// multipartOverhead covers part headers and boundaries around the file.
const multipartOverhead = 1 << 20

type AssetsHandler struct {
	assets             *services.AssetService
	maxMultipartMemory int64
	maxBodyBytes       int64
}

func NewAssetsHandler(assets *services.AssetService, maxMultipartMemory int64) *AssetsHandler {
	if maxMultipartMemory <= 0 {
		maxMultipartMemory = 32 << 20
	}
	return &AssetsHandler{
		assets:             assets,
		maxMultipartMemory: maxMultipartMemory,
		maxBodyBytes:       models.MaxUploadBytes() + multipartOverhead,
	}
}

// UploadAsset godoc
// @Summary     Upload asset
// @Description Uploads a video, audio or image file into the project. The type is derived from the content type.
// @Tags        assets
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Param       file formData file true "Media file"
// @Success     201 {object} models.AssetResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/assets [post]
func (h *AssetsHandler) UploadAsset(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	if c.Request.ContentLength > h.maxBodyBytes {
		h.tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	if err := c.Request.ParseMultipartForm(h.maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		badRequest(c, "failed to parse multipart form")
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}

	src, err := header.Open()
	if err != nil {
		badRequest(c, "failed to open file")
		return
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		badRequest(c, "failed to read file")
		return
	}
	head = head[:n]

	asset, err := h.assets.Upload(c.Request.Context(), userID, projectID, services.UploadInput{
		Filename:    header.Filename,
		ContentType: uploadContentType(header.Header.Get("Content-Type"), header.Filename, head),
		Body:        io.MultiReader(bytes.NewReader(head), src),
		Size:        header.Size,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewAssetResponse(asset))
}

func (h *AssetsHandler) tooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
		Error:   "request entity too large",
		Message: "upload exceeds " + format.Bytes(h.maxBodyBytes-multipartOverhead),
	})
}

// sniffLen is how much of a file http.DetectContentType looks at.
const sniffLen = 512

// uploadContentType trusts the part header unless it is missing or generic,
// then falls back to the extension and finally to content sniffing.
func uploadContentType(declared, filename string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

// ListAssets godoc
// @Summary     List project assets
// @Tags        assets
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID"
// @Success     200 {object} models.AssetListResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/projects/{project_id}/assets [get]
func (h *AssetsHandler) ListAssets(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := pathUUID(c, "project_id")
	if !ok {
		return
	}

	assets, err := h.assets.List(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AssetListResponse{Assets: models.NewAssetResponses(assets)})
}

// GetAsset godoc
// @Summary     Get asset
// @Tags        assets
// @Produce     json
// @Security    Bearer
// @Param       asset_id path string true "Asset ID"
// @Success     200 {object} models.AssetResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/assets/{asset_id} [get]
func (h *AssetsHandler) GetAsset(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	assetID, ok := pathUUID(c, "asset_id")
	if !ok {
		return
	}

	asset, err := h.assets.Get(c.Request.Context(), userID, assetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewAssetResponse(asset))
}

// GetAssetURL godoc
// @Summary     Signed asset URL
// @Description Returns a time-limited download URL for the asset
// @Tags        assets
// @Produce     json
// @Security    Bearer
// @Param       asset_id path string true "Asset ID"
// @Param       expires_in query int false "Lifetime in seconds (default 3600, max 604800)"
// @Success     200 {object} models.SignedURLResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/assets/{asset_id}/url [get]
func (h *AssetsHandler) GetAssetURL(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	assetID, ok := pathUUID(c, "asset_id")
	if !ok {
		return
	}

	expiresIn := 0
	if raw := c.Query("expires_in"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "expires_in must be a positive integer")
			return
		}
		expiresIn = n
	}

	url, expiresIn, err := h.assets.SignedURL(c.Request.Context(), userID, assetID, expiresIn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SignedURLResponse{URL: url, ExpiresIn: expiresIn})
}

// DeleteAsset godoc
// @Summary     Delete asset
// @Tags        assets
// @Security    Bearer
// @Param       asset_id path string true "Asset ID"
// @Success     204
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /api/v1/assets/{asset_id} [delete]
func (h *AssetsHandler) DeleteAsset(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	assetID, ok := pathUUID(c, "asset_id")
	if !ok {
		return
	}

	if err := h.assets.Delete(c.Request.Context(), userID, assetID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
