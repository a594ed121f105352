// Package media implements the single re-encoding pass applied to image
// attachments. The stored copy and the transmitted copy both come from this
// pass, so they are bit-identical to each other but not to the source file.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // decoder registration
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// MaxSourceBytes guards against decoding pathological files.
	MaxSourceBytes = 20 * 1024 * 1024
	// MaxDimension is the longest edge after the downscale pass.
	MaxDimension = 1024
	jpegQuality  = 80
)

// Encoded is the output of the re-encoding pass.
type Encoded struct {
	Bytes     []byte
	MediaType string
}

// DataURL renders the image as the provider's data URL part.
func (e *Encoded) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", e.MediaType, base64.StdEncoding.EncodeToString(e.Bytes))
}

// MediaTypeFromExtension infers the source mime type, or "" when the format
// is not supported.
func MediaTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

// ReencodeFile reads, downscales and re-compresses an image file. PNG stays
// PNG so screenshots keep transparency; everything else becomes JPEG.
func ReencodeFile(path string) (*Encoded, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat image")
	}
	if info.Size() > MaxSourceBytes {
		return nil, errors.Errorf("image size exceeds %dMB limit", MaxSourceBytes/(1024*1024))
	}

	mediaType := MediaTypeFromExtension(filepath.Ext(path))
	if mediaType == "" {
		return nil, errors.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}

	return Reencode(img, mediaType)
}

// Reencode downscales the image to MaxDimension and re-compresses it.
func Reencode(img image.Image, sourceMediaType string) (*Encoded, error) {
	img = downscale(img)

	var buf bytes.Buffer
	mediaType := "image/jpeg"
	if sourceMediaType == "image/png" {
		mediaType = "image/png"
		if err := png.Encode(&buf, img); err != nil {
			return nil, errors.Wrap(err, "encode png")
		}
	} else {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, errors.Wrap(err, "encode jpeg")
		}
	}

	log.Debug().Str("media_type", mediaType).Int("bytes", buf.Len()).Msg("re-encoded image")
	return &Encoded{Bytes: buf.Bytes(), MediaType: mediaType}, nil
}

func downscale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= MaxDimension && h <= MaxDimension {
		return img
	}

	scale := float64(MaxDimension) / float64(w)
	if h > w {
		scale = float64(MaxDimension) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
