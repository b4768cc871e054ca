package ico

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func gradient(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	return img
}

// TestEncodeExpand ensures every size written by Encode comes back out of
// Expand as a png of that size.
func TestEncodeExpand(t *testing.T) {
	tests := []struct {
		Sizes []int
		Want  []int
	}{
		{
			Sizes: nil,
			Want:  DefaultSizes,
		},
		{
			Sizes: []int{16, 48},
			Want:  []int{16, 48},
		},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		if err := Encode(&b, gradient(64), tt.Sizes...); err != nil {
			t.Fatalf("encoding: %v", err)
		}
		images, err := Expand(b.Bytes())
		if err != nil {
			t.Fatalf("expanding: %v", err)
		}
		if len(images) != len(tt.Want) {
			t.Fatalf("image count got=%d, want=%d", len(images), len(tt.Want))
		}
		for ii, data := range images {
			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("image %d: decoding png: %v", ii, err)
			}
			if cfg.Width != tt.Want[ii] || cfg.Height != tt.Want[ii] {
				t.Fatalf("image %d: size got=%dx%d, want=%d", ii, cfg.Width, cfg.Height, tt.Want[ii])
			}
		}
	}
}

func TestEncodeRejectsSize(t *testing.T) {
	if err := Encode(&bytes.Buffer{}, gradient(8), 512); err == nil {
		t.Fatalf("expected error for oversized icon")
	}
}

// TestExpandBitmap builds an ico holding a single 2x2 32-bit bitmap entry.
func TestExpandBitmap(t *testing.T) {
	var dib bytes.Buffer
	info := make([]byte, 40)
	binary.LittleEndian.PutUint32(info[0:4], 40)
	binary.LittleEndian.PutUint32(info[4:8], 2)
	binary.LittleEndian.PutUint32(info[8:12], 4) // colour rows + mask rows
	binary.LittleEndian.PutUint16(info[12:14], 1)
	binary.LittleEndian.PutUint16(info[14:16], 32)
	dib.Write(info)
	for i := 0; i < 4; i++ {
		dib.Write([]byte{0x10, 0x20, 0x30, 0xff}) // BGRA
	}
	dib.Write(make([]byte, 8)) // AND mask, rows padded to 4 bytes

	var ico bytes.Buffer
	binary.Write(&ico, binary.LittleEndian, Header{ImageType: 1, ImageCount: 1})
	binary.Write(&ico, binary.LittleEndian, Descriptor{
		Width:  2,
		Height: 2,
		Planes: 1,
		BPP:    32,
		Size:   uint32(dib.Len()),
		Offset: 6 + 16,
	})
	ico.Write(dib.Bytes())

	images, err := Expand(ico.Bytes())
	if err != nil {
		t.Fatalf("expanding: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("image count got=%d, want=1", len(images))
	}
	img, err := png.Decode(bytes.NewReader(images[0]))
	if err != nil {
		t.Fatalf("decoding png: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(2, 2) {
		t.Fatalf("size got=%v, want=2x2", got)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 0x30 || g>>8 != 0x20 || b>>8 != 0x10 {
		t.Fatalf("pixel got=(%x,%x,%x), want=(30,20,10)", r>>8, g>>8, b>>8)
	}
}

func TestExpandRejects(t *testing.T) {
	if _, err := Expand([]byte{0, 0}); err == nil {
		t.Fatalf("expected error for truncated input")
	}
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, Header{ImageType: 2})
	if _, err := Expand(b.Bytes()); err != ErrNotICO {
		t.Fatalf("got=%v, want=%v", err, ErrNotICO)
	}
	// An entry pointing past the end is reported but doesn't stop the rest.
	b.Reset()
	binary.Write(&b, binary.LittleEndian, Header{ImageType: 1, ImageCount: 1})
	binary.Write(&b, binary.LittleEndian, Descriptor{Size: 100, Offset: 22})
	images, err := Expand(b.Bytes())
	if err == nil || len(images) != 0 {
		t.Fatalf("expected out of bounds error, got images=%d err=%v", len(images), err)
	}
}
