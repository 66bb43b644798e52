package data

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

var errMalformedImage = errors.New("malformed image container")

// stripMetadata 按容器格式删除 EXIF/XMP/文本块，像素数据原样保留。
// 带旋转方向的 JPEG 删掉 EXIF 后会显示错位，这种情况按方向旋转后重新编码。
func stripMetadata(contentType string, data []byte) ([]byte, error) {
	switch contentType {
	case "image/jpeg":
		out, orientation, err := stripJPEG(data)
		if err != nil {
			return nil, err
		}
		if orientation > 1 {
			return reorientJPEG(data)
		}
		return out, nil
	case "image/png":
		return stripPNG(data)
	case "image/webp":
		return stripWebP(data)
	default:
		return data, nil
	}
}

// stripJPEG 删除 APP1(EXIF/XMP)、APP13(IPTC) 与 COM 段，同时返回 EXIF 中的方向值
func stripJPEG(data []byte) ([]byte, int, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, 0, errMalformedImage
	}

	out := make([]byte, 0, len(data))
	out = append(out, 0xFF, 0xD8)
	orientation := 0

	i := 2
	for i < len(data) {
		if data[i] != 0xFF {
			return nil, 0, errMalformedImage
		}
		// 段之间允许填充 0xFF
		for i+1 < len(data) && data[i+1] == 0xFF {
			i++
		}
		if i+1 >= len(data) {
			return nil, 0, errMalformedImage
		}
		marker := data[i+1]

		switch {
		case marker == 0xDA: // SOS 之后是压缩数据
			return append(out, data[i:]...), orientation, nil
		case marker == 0xD9:
			return append(out, 0xFF, 0xD9), orientation, nil
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			out = append(out, 0xFF, marker)
			i += 2
			continue
		}

		if i+4 > len(data) {
			return nil, 0, errMalformedImage
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + length
		if length < 2 || end > len(data) {
			return nil, 0, errMalformedImage
		}

		switch marker {
		case 0xE1:
			if o := exifOrientation(data[i+4 : end]); o > 0 {
				orientation = o
			}
		case 0xED, 0xFE:
		default:
			out = append(out, data[i:end]...)
		}
		i = end
	}
	return nil, 0, errMalformedImage
}

// exifOrientation 读取 IFD0 的 Orientation(0x0112)，不存在时返回 0
func exifOrientation(payload []byte) int {
	if !bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
		return 0
	}
	tiff := payload[6:]
	if len(tiff) < 8 {
		return 0
	}

	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0
	}

	ifd := int(order.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return 0
	}
	count := int(order.Uint16(tiff[ifd : ifd+2]))
	for n := 0; n < count; n++ {
		entry := ifd + 2 + n*12
		if entry+12 > len(tiff) {
			return 0
		}
		if order.Uint16(tiff[entry:entry+2]) == 0x0112 {
			return int(order.Uint16(tiff[entry+8 : entry+10]))
		}
	}
	return 0
}

func reorientJPEG(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("failed to re-encode oriented JPEG image: %w", err)
	}
	return buf.Bytes(), nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// stripPNG 删除 eXIf、tEXt、zTXt、iTXt、tIME 块；其余块连同 CRC 原样保留
func stripPNG(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errMalformedImage
	}

	out := make([]byte, 0, len(data))
	out = append(out, pngSignature...)

	i := len(pngSignature)
	for i+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		end := i + 12 + length
		if length < 0 || end > len(data) {
			return nil, errMalformedImage
		}
		chunk := string(data[i+4 : i+8])

		switch chunk {
		case "eXIf", "tEXt", "zTXt", "iTXt", "tIME":
		default:
			out = append(out, data[i:end]...)
		}
		if chunk == "IEND" {
			return out, nil
		}
		i = end
	}
	return nil, errMalformedImage
}

// stripWebP 删除 EXIF 与 XMP 块，同步清除 VP8X 标志位并重写 RIFF 长度
func stripWebP(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil, errMalformedImage
	}

	out := make([]byte, 12, len(data))
	copy(out, data[:12])

	vp8x := -1
	i := 12
	for i+8 <= len(data) {
		size := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		end := i + 8 + size + size%2
		if end > len(data) {
			// 末尾块缺少填充字节
			if i+8+size != len(data) {
				return nil, errMalformedImage
			}
			end = len(data)
		}
		fourCC := string(data[i : i+4])

		switch fourCC {
		case "EXIF", "XMP ":
		default:
			if fourCC == "VP8X" && size >= 1 {
				vp8x = len(out) + 8
			}
			out = append(out, data[i:end]...)
		}
		i = end
	}
	if i != len(data) {
		return nil, errMalformedImage
	}

	if vp8x >= 0 {
		out[vp8x] &^= 0x08 | 0x04
	}
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out, nil
}
