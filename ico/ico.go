// ico format encoding and decoding.
// Encoder modified from https://github.com/wailsapp/wails project.
package ico

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultSizes embedded by Encode when none are given.
var DefaultSizes = []int{256, 128, 64, 48, 32, 16}

type Container struct {
	Header Descriptor
	Data   []byte
}

type Header struct {
	_          uint16
	ImageType  uint16
	ImageCount uint16
}

type Descriptor struct {
	Width  uint8
	Height uint8
	_      uint8 // colors
	_      uint8
	Planes uint16
	BPP    uint16
	Size   uint32
	Offset uint32
}

// Encode scales src to each of sizes and writes the results as a
// multi-resolution ico into dst.
func Encode(dst io.Writer, src image.Image, sizes ...int) error {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	icons := make([]Container, 0, len(sizes))
	for _, size := range sizes {
		if size <= 0 || size > 256 {
			return fmt.Errorf("unsupported icon size %d", size)
		}
		var (
			rect   = image.Rect(0, 0, size, size)
			raw    = image.NewRGBA(rect)
			buffer = bytes.NewBuffer(nil)
			scale  = draw.CatmullRom
		)
		scale.Scale(raw, rect, src, src.Bounds(), draw.Over, nil)
		if err := png.Encode(buffer, raw); err != nil {
			return fmt.Errorf("encoding png data into ico: %w", err)
		}
		imgSize := size
		if imgSize >= 256 {
			imgSize = 0
		}
		data := buffer.Bytes()
		icons = append(icons, Container{
			Header: Descriptor{
				Width:  uint8(imgSize),
				Height: uint8(imgSize),
				Planes: 1,
				BPP:    32,
				Size:   uint32(len(data)),
			},
			Data: data,
		})
	}
	if err := binary.Write(dst, binary.LittleEndian, Header{
		ImageType:  1,
		ImageCount: uint16(len(icons)),
	}); err != nil {
		return fmt.Errorf("writing ico header: %w", err)
	}
	offset := uint32(6 + 16*len(icons))
	for _, icon := range icons {
		icon.Header.Offset = offset
		if err := binary.Write(dst, binary.LittleEndian, icon.Header); err != nil {
			return fmt.Errorf("writing icon headers: %w", err)
		}
		offset += icon.Header.Size
	}
	for _, icon := range icons {
		if _, err := dst.Write(icon.Data); err != nil {
			return fmt.Errorf("writing icon data: %w", err)
		}
	}
	return nil
}

// ErrNotICO is returned when the input does not carry an ico header.
var ErrNotICO = errors.New("not an ico file")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Expand splits an ico into one png per embedded image, in directory order.
// PNG entries are returned verbatim, BMP entries are decoded and re-encoded.
// Entries that can't be decoded are reported in the returned error alongside
// the images that could.
func Expand(data []byte) ([][]byte, error) {
	r := bytes.NewReader(data)
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading ico header: %w", err)
	}
	if h.ImageType != 1 {
		return nil, ErrNotICO
	}
	entries := make([]Descriptor, h.ImageCount)
	if err := binary.Read(r, binary.LittleEndian, entries); err != nil {
		return nil, fmt.Errorf("reading icon headers: %w", err)
	}
	var (
		out  [][]byte
		errs []error
	)
	for ii, entry := range entries {
		end := uint64(entry.Offset) + uint64(entry.Size)
		if end > uint64(len(data)) {
			errs = append(errs, fmt.Errorf("entry %d: data out of bounds", ii))
			continue
		}
		raw := data[entry.Offset:end]
		if bytes.HasPrefix(raw, pngMagic) {
			out = append(out, raw)
			continue
		}
		img, err := decodeDIB(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", ii, err))
			continue
		}
		var b bytes.Buffer
		if err := png.Encode(&b, img); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: encoding png: %w", ii, err))
			continue
		}
		out = append(out, b.Bytes())
	}
	return out, errors.Join(errs...)
}

// decodeDIB decodes a headerless bitmap as stored in an ico. The stored
// height covers both the colour and the AND mask, so it is halved and the
// mask ignored.
func decodeDIB(raw []byte) (image.Image, error) {
	if len(raw) < 40 {
		return nil, errors.New("truncated bitmap header")
	}
	var (
		infoLen    = binary.LittleEndian.Uint32(raw[0:4])
		height     = int32(binary.LittleEndian.Uint32(raw[8:12]))
		bpp        = binary.LittleEndian.Uint16(raw[14:16])
		colorsUsed = binary.LittleEndian.Uint32(raw[32:36])
	)
	if infoLen < 40 || int(infoLen) > len(raw) {
		return nil, fmt.Errorf("bad bitmap header size %d", infoLen)
	}
	info := make([]byte, len(raw))
	copy(info, raw)
	binary.LittleEndian.PutUint32(info[8:12], uint32(height/2))
	palette := uint32(0)
	if bpp <= 8 {
		palette = colorsUsed
		if palette == 0 {
			palette = 1 << bpp
		}
	}
	file := make([]byte, 14, 14+len(info))
	file[0], file[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(file[2:6], uint32(14+len(info)))
	binary.LittleEndian.PutUint32(file[10:14], 14+infoLen+palette*4)
	img, err := bmp.Decode(bytes.NewReader(append(file, info...)))
	if err != nil {
		return nil, fmt.Errorf("decoding bitmap: %w", err)
	}
	return img, nil
}
