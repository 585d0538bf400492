// Package blob stores uploaded files on the local filesystem, one directory per bucket.
package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrURLExpired       = errors.New("url expired")

	bucketRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
	blobIDRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,10})?$`)
)

// FileStore is a core.BlobStore writing under dir. Preview URLs are signed with
// HMAC-SHA256 and expire after urlTTL.
type FileStore struct {
	dir     string
	baseURL string
	secret  []byte
	urlTTL  time.Duration
	now     func() time.Time
}

var _ core.BlobStore = (*FileStore)(nil)

func NewFileStore(conf *core.Config) (*FileStore, error) {
	if err := os.MkdirAll(conf.Blob.Dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating blob dir")
	}
	return &FileStore{
		dir:     conf.Blob.Dir,
		baseURL: strings.TrimRight(conf.Blob.BaseURL, "/"),
		secret:  []byte(conf.SecretKey),
		urlTTL:  conf.Blob.URLExpirationDelta,
		now:     time.Now,
	}, nil
}

func checkBucket(bucket string) vala.Checker {
	return func() (bool, string) {
		return bucketRegex.MatchString(bucket), fmt.Sprintf("parameter bucket is not a valid bucket name: %q", bucket)
	}
}

func checkBlobID(blobID string) vala.Checker {
	return func() (bool, string) {
		return blobIDRegex.MatchString(blobID), fmt.Sprintf("parameter blobID is not a valid blob id: %q", blobID)
	}
}

func (s *FileStore) path(bucket, blobID string) string {
	return filepath.Join(s.dir, bucket, blobID)
}

// Upload stores r under a new id keeping the (lowered) extension of filename.
func (s *FileStore) Upload(ctx context.Context, bucket, filename string, r io.Reader) (string, error) {
	err := vala.BeginValidation().Validate(
		checkBucket(bucket),
		vala.StringNotEmpty(filename, "filename"),
		vala.IsNotNil(r, "r"),
	).Check()
	if err != nil {
		return "", core.NewValidationError(err)
	}

	blobID := uuid.New().String()
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && blobIDRegex.MatchString(blobID+ext) {
		blobID += ext
	}

	dir := filepath.Join(s.dir, bucket)
	if err = os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrap(err, "creating bucket dir")
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "writing blob")
	}
	if err = tmp.Close(); err != nil {
		return "", errors.Wrap(err, "writing blob")
	}
	if err = os.Rename(tmp.Name(), s.path(bucket, blobID)); err != nil {
		return "", errors.Wrap(err, "storing blob")
	}
	return blobID, nil
}

func (s *FileStore) Download(_ context.Context, bucket, blobID string) (io.ReadCloser, error) {
	if err := vala.BeginValidation().Validate(checkBucket(bucket), checkBlobID(blobID)).Check(); err != nil {
		return nil, errors.Wrapf(core.ErrNotFound, "blob %s/%s", bucket, blobID)
	}
	f, err := os.Open(s.path(bucket, blobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(core.ErrNotFound, "blob %s/%s", bucket, blobID)
		}
		return nil, errors.Wrap(err, "opening blob")
	}
	return f, nil
}

// Delete removes a blob; unknown blobs are ignored.
func (s *FileStore) Delete(_ context.Context, bucket, blobID string) error {
	if err := vala.BeginValidation().Validate(checkBucket(bucket), checkBlobID(blobID)).Check(); err != nil {
		return core.NewValidationError(err)
	}
	if err := os.Remove(s.path(bucket, blobID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting blob")
	}
	return nil
}

func (s *FileStore) sign(bucket, blobID string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = fmt.Fprintf(mac, "%s/%s/%d", bucket, blobID, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// PreviewURL returns a download URL valid for the configured delta.
func (s *FileStore) PreviewURL(bucket, blobID string) (string, error) {
	if err := vala.BeginValidation().Validate(checkBucket(bucket), checkBlobID(blobID)).Check(); err != nil {
		return "", core.NewValidationError(err)
	}
	expires := s.now().Add(s.urlTTL).Unix()
	q := url.Values{
		"expires":   {strconv.FormatInt(expires, 10)},
		"signature": {s.sign(bucket, blobID, expires)},
	}
	return fmt.Sprintf("%s/v1/blobs/%s/%s?%s", s.baseURL, bucket, blobID, q.Encode()), nil
}

// VerifyURL checks the expires & signature query params of a preview URL.
func (s *FileStore) VerifyURL(bucket, blobID, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	want := s.sign(bucket, blobID, exp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrURLExpired
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
