package codec

var (
	mpeg1Bitrates = [15]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mpeg2Bitrates = [15]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
	mpeg1Rates    = [3]int{44100, 48000, 32000}
)

// frameLength returns the size of the Layer III frame whose header starts h,
// 0 when h does not start with such a header, or -1 when h is too short to
// tell.
func frameLength(h []byte) int {
	if len(h) < 4 {
		return -1
	}
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return 0
	}
	version := (h[1] >> 3) & 0x03 // 0: MPEG 2.5, 1: reserved, 2: MPEG 2, 3: MPEG 1
	layer := (h[1] >> 1) & 0x03   // 1: Layer III
	bitrateIndex := h[2] >> 4
	rateIndex := (h[2] >> 2) & 0x03
	padding := int(h[2]>>1) & 0x01
	if version == 1 || layer != 1 || bitrateIndex == 0 || bitrateIndex == 15 || rateIndex == 3 {
		return 0
	}

	switch version {
	case 3:
		return 144*mpeg1Bitrates[bitrateIndex]*1000/mpeg1Rates[rateIndex] + padding
	case 2:
		return 72*mpeg2Bitrates[bitrateIndex]*1000/(mpeg1Rates[rateIndex]/2) + padding
	default:
		return 72*mpeg2Bitrates[bitrateIndex]*1000/(mpeg1Rates[rateIndex]/4) + padding
	}
}

// wholeFrames returns the length of the longest prefix of data, at most limit
// bytes, made of complete frames. Data that does not start with a frame
// header is passed through unframed.
func wholeFrames(data []byte, limit int) int {
	n := 0
	for n < len(data) {
		size := frameLength(data[n:])
		if size < 0 {
			break
		}
		if size == 0 {
			if n == 0 {
				return min(len(data), limit)
			}
			break
		}
		if n+size > len(data) || n+size > limit {
			break
		}
		n += size
	}
	return n
}
