package frame

import (
	"fmt"
	"strings"
)

// Format is a pixel format code
type Format uint32

const (
	FormatUnknown  Format = 0
	FormatRGBA8888 Format = 1
	FormatRGBX8888 Format = 2
	FormatRGB888   Format = 3
	FormatRGB565   Format = 4
	FormatBGRA8888 Format = 5
	FormatBGRX8888 Format = 6

	FormatYV12 Format = 0x32315659
	FormatNV12 Format = 0x3231564e
	FormatYUY2 Format = 0x32595559
)

var formatNames = map[Format]string{
	FormatRGBA8888: "RGBA8888",
	FormatRGBX8888: "RGBX8888",
	FormatRGB888:   "RGB888",
	FormatRGB565:   "RGB565",
	FormatBGRA8888: "BGRA8888",
	FormatBGRX8888: "BGRX8888",
	FormatYV12:     "YV12",
	FormatNV12:     "NV12",
	FormatYUY2:     "YUY2",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", uint32(f))
}

// RGB reports whether f is a packed RGB format
func (f Format) RGB() bool {
	switch f {
	case FormatRGBA8888, FormatRGBX8888, FormatRGB888, FormatRGB565, FormatBGRA8888, FormatBGRX8888:
		return true
	}
	return false
}

// YUV reports whether f is a video format
func (f Format) YUV() bool {
	switch f {
	case FormatYV12, FormatNV12, FormatYUY2:
		return true
	}
	return false
}

// HasAlpha reports whether f carries an alpha channel
func (f Format) HasAlpha() bool {
	return f == FormatRGBA8888 || f == FormatBGRA8888
}

// ParseFormat accepts the names produced by Format.String
func ParseFormat(s string) (Format, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == want {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}
