package ui

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
	"runtime"
	"sync"
)

const iconSize = 32

var (
	stateColors = map[string]color.RGBA{
		"connected":     {30, 200, 90, 255},
		"connecting":    {240, 190, 30, 255},
		"disconnecting": {240, 190, 30, 255},
		"countdown":     {255, 140, 20, 255},
		"error":         {220, 55, 55, 255},
	}
	idleColor = color.RGBA{160, 160, 160, 255}

	iconMu    sync.Mutex
	iconCache = map[string][]byte{}
)

// GetIcon returns the tray icon for a state name.
func GetIcon(state string) []byte {
	iconMu.Lock()
	defer iconMu.Unlock()
	if b, ok := iconCache[state]; ok {
		return b
	}
	c, ok := stateColors[state]
	if !ok {
		c = idleColor
	}
	b := encodeIcon(shieldImage(c))
	iconCache[state] = b
	return b
}

// shieldImage draws a filled shield with a keyhole cut out of it.
func shieldImage(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	const half = iconSize / 2.0
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			// Supersample each pixel 4x4 for smooth edges.
			hits := 0
			for sy := 0; sy < 4; sy++ {
				for sx := 0; sx < 4; sx++ {
					px := float64(x) + (float64(sx)+0.5)/4
					py := float64(y) + (float64(sy)+0.5)/4
					if inShield(px-half, py) && !inKeyhole(px-half, py) {
						hits++
					}
				}
			}
			if hits == 0 {
				continue
			}
			a := uint8(int(c.A) * hits / 16)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(int(c.R) * int(a) / 255),
				G: uint8(int(c.G) * int(a) / 255),
				B: uint8(int(c.B) * int(a) / 255),
				A: a,
			})
		}
	}
	return img
}

// inShield reports whether (dx, y) lies inside the shield outline. dx is
// measured from the vertical centre line.
func inShield(dx, y float64) bool {
	const top, shoulder, bottom, width = 2.0, 14.0, 30.0, 13.0
	switch {
	case y < top || y > bottom:
		return false
	case y <= shoulder:
		// Slight dip in the middle of the top edge.
		return math.Abs(dx) <= width && y >= top+2*math.Cos(dx/width*math.Pi/2)
	default:
		// Sides curve in to the point at the bottom.
		t := (y - shoulder) / (bottom - shoulder)
		return math.Abs(dx) <= width*math.Sqrt(1-t*t)
	}
}

func inKeyhole(dx, y float64) bool {
	if math.Hypot(dx, y-13) <= 3.5 {
		return true
	}
	return y >= 13 && y <= 22 && math.Abs(dx) <= 1.5+(y-13)*0.12
}

func encodeIcon(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return pngToICO(buf.Bytes(), iconSize)
	}
	return buf.Bytes()
}

// pngToICO wraps a PNG image in a single-entry ICO container.
func pngToICO(data []byte, size int) []byte {
	const headerSize = 6 + 16
	var buf bytes.Buffer
	buf.Grow(headerSize + len(data))

	// ICONDIR: reserved, type 1 (icon), one image.
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	// ICONDIRENTRY
	buf.Write([]byte{byte(size), byte(size), 0, 0})
	binary.Write(&buf, binary.LittleEndian, [2]uint16{1, 32})
	binary.Write(&buf, binary.LittleEndian, [2]uint32{uint32(len(data)), headerSize})
	buf.Write(data)
	return buf.Bytes()
}
