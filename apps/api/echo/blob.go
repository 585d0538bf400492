package echoapi

import (
	"mime"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/storage/blob"
)

const maxUploadSize = "32M"

type blobApi struct {
	store *blob.FileStore
}

type UploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func registerBlobAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, store *blob.FileStore) {
	api := blobApi{store: store}

	bg := g.Group("/blobs")
	bg.POST("/:bucket", api.upload, jwt, activeUserMiddleware(auth), middleware.BodyLimit(maxUploadSize))
	// authorized by the signature of the preview URL
	bg.GET("/:bucket/:id", api.download)
}

func (api *blobApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "file", Error: "this field is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	bucket := ctx.Param("bucket")
	id, err := api.store.Upload(ctx.Request().Context(), bucket, fh.Filename, f)
	if err != nil {
		return errors.Wrap(err, "uploading blob")
	}
	url, err := api.store.PreviewURL(bucket, id)
	if err != nil {
		return errors.Wrap(err, "signing preview url")
	}
	return ctx.JSON(http.StatusCreated, UploadResponse{ID: id, URL: url})
}

func (api *blobApi) download(ctx echo.Context) error {
	bucket, id := ctx.Param("bucket"), ctx.Param("id")
	if err := api.store.VerifyURL(bucket, id, ctx.QueryParam("expires"), ctx.QueryParam("signature")); err != nil {
		return err
	}

	rc, err := api.store.Download(ctx.Request().Context(), bucket, id)
	if err != nil {
		return errors.Wrap(err, "downloading blob")
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(id))
	if ctype == "" {
		ctype = echo.MIMEOctetStream
	}
	return ctx.Stream(http.StatusOK, ctype, rc)
}
