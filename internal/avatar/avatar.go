// Package avatar stores signup avatars and returns the reference saved on the user.
package avatar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// MaxSize bounds an uploaded avatar.
const MaxSize = 5 << 20

var ErrTooLarge = errors.New("avatar exceeds size limit")

// Store persists an avatar and returns a URL or path clients can fetch it from.
type Store interface {
	Save(ctx context.Context, originalName, contentType string, r io.Reader, size int64) (string, error)
	// Delete removes an avatar by the reference Save returned. Unknown
	// references are not an error.
	Delete(ctx context.Context, ref string) error
}

var allowedExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// objectName builds avatar_<unix ms>_<random><ext>. Unknown extensions are dropped.
func objectName(now time.Time, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExt[ext] {
		ext = ""
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("avatar_%d_%s%s", now.UnixMilli(), hex.EncodeToString(b[:]), ext)
}
