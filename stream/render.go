/*Package stream serves live camera frames as JPEG images over TCP.

Every finished frame with a success status is rendered to an 8-bit grayscale
JPEG.  A connected client requests the next image by sending any data; the
reply is a big-endian uint32 length followed by the JPEG bytes.
*/
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/gift"

	"github.com/kbg/sjcam/recorder"
)

const jpegQuality = 90

// renderGray converts the frame's pixel data to an 8-bit grayscale image.
// 8-bit data is copied; deeper mono formats up to 16 bits are shifted down
// to 8 bits.  An unsupported depth yields a black image and an error.
func renderGray(f recorder.Frame) (*image.Gray, error) {
	w, h, depth := f.Width(), f.Height(), f.BitDepth()
	img := image.NewGray(image.Rect(0, 0, w, h))
	buf := f.Bytes()

	switch {
	case depth == 8:
		if len(buf) < w*h {
			return img, fmt.Errorf("cannot render image: %d pixel bytes for %dx%d", len(buf), w, h)
		}
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:], buf[y*w:(y+1)*w])
		}
	case depth > 8 && depth <= 16:
		if len(buf) < w*h*2 {
			return img, fmt.Errorf("cannot render image: %d pixel bytes for %dx%d at depth %d", len(buf), w, h, depth)
		}
		shift := uint(depth - 8)
		for y := 0; y < h; y++ {
			row := buf[y*w*2:]
			out := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				v := binary.LittleEndian.Uint16(row[x*2:])
				out[x] = uint8(v >> shift)
			}
		}
	default:
		return img, fmt.Errorf("cannot render image, unsupported bit depth %d", depth)
	}
	return img, nil
}

// downscale resizes the image by the given factor using Lanczos resampling.
func downscale(img *image.Gray, scale float64) *image.Gray {
	w := int(float64(img.Bounds().Dx()) * scale)
	if w < 1 {
		w = 1
	}
	g := gift.New(gift.Resize(w, 0, gift.LanczosResampling))
	dst := image.NewGray(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// encodeJPEG renders the image to JPEG bytes.
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("cannot encode image: %w", err)
	}
	return buf.Bytes(), nil
}
