// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"fmt"
)

const (
	adpcmInitialStepIndex = 0x2C
	adpcmMaxStepIndex     = 88
)

var adpcmNextStep = [32]int{
	-1, 0, -1, 4, -1, 2, -1, 6, -1, 1, -1, 5, -1, 3, -1, 7,
	-1, 1, -1, 5, -1, 3, -1, 7, -1, 2, -1, 4, -1, 6, -1, 8,
}

var adpcmStepSize = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14,
	16, 17, 19, 21, 23, 25, 28, 31,
	34, 37, 41, 45, 50, 55, 60, 66,
	73, 80, 88, 97, 107, 118, 130, 143,
	157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658,
	724, 796, 876, 963, 1060, 1166, 1282, 1411,
	1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484,
	7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794,
	32767,
}

// decompressADPCM decodes Blizzard's IMA ADPCM variant into 16-bit little-endian
// PCM. The stream starts with a zero byte, the bit shift, and one initial
// sample per channel; each following byte is either a code for the next
// channel in turn or one of the control bytes 0x80 and 0x81.
func decompressADPCM(data []byte, uncompressedSize uint32, channels int) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("adpcm: header truncated")
	}

	out := make([]byte, 0, uncompressedSize)
	writeSample := func(s int) bool {
		if uint32(len(out))+2 > uncompressedSize {
			return false
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(s)))
		return true
	}

	bitShift := uint(data[1])
	pos := 2

	var predicted, stepIndex [2]int
	stepIndex[0], stepIndex[1] = adpcmInitialStepIndex, adpcmInitialStepIndex

	for ch := 0; ch < channels; ch++ {
		if pos+2 > len(data) {
			return out, nil
		}
		predicted[ch] = int(int16(binary.LittleEndian.Uint16(data[pos:])))
		pos += 2
		if !writeSample(predicted[ch]) {
			return out, nil
		}
	}

	ch := channels - 1
	for ; pos < len(data); pos++ {
		code := data[pos]
		ch = (ch + 1) % channels

		switch code {
		case 0x80:
			if stepIndex[ch] != 0 {
				stepIndex[ch]--
			}
			if !writeSample(predicted[ch]) {
				return out, nil
			}
		case 0x81:
			stepIndex[ch] += 8
			if stepIndex[ch] > adpcmMaxStepIndex {
				stepIndex[ch] = adpcmMaxStepIndex
			}
			// the next code is for the same channel again
			ch = (ch + 1) % channels
		default:
			step := adpcmStepSize[stepIndex[ch]]
			predicted[ch] = adpcmDecodeSample(predicted[ch], code, step, step>>bitShift)
			if !writeSample(predicted[ch]) {
				return out, nil
			}
			stepIndex[ch] = adpcmNextStepIndex(stepIndex[ch], code)
		}
	}

	return out, nil
}

func adpcmNextStepIndex(index int, code byte) int {
	index += adpcmNextStep[code&0x1F]
	if index < 0 {
		return 0
	}
	if index > adpcmMaxStepIndex {
		return adpcmMaxStepIndex
	}
	return index
}

func adpcmDecodeSample(predicted int, code byte, step int, diff int) int {
	for bit := 0; bit < 6; bit++ {
		if code&(1<<bit) != 0 {
			diff += step >> bit
		}
	}

	if code&0x40 != 0 {
		predicted -= diff
		if predicted < -32768 {
			predicted = -32768
		}
	} else {
		predicted += diff
		if predicted > 32767 {
			predicted = 32767
		}
	}
	return predicted
}
