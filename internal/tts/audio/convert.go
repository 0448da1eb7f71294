package audio

// TargetFormat picks the highest sample rate and channel count among clips so
// that joining never loses resolution.
func TargetFormat(clips []Clip) (int, int) {
	sampleRate, channels := 0, 0

	for _, clip := range clips {
		if clip.SampleRate > sampleRate {
			sampleRate = clip.SampleRate
		}

		if clip.Channels > channels {
			channels = clip.Channels
		}
	}

	return sampleRate, channels
}

// Conform returns clip converted to sampleRate and channels. Rate conversion
// is linear interpolation, which keeps the clip duration within one frame.
func Conform(clip Clip, sampleRate, channels int) Clip {
	converted := clip
	if converted.Channels != channels {
		converted = remixChannels(converted, channels)
	}

	if converted.SampleRate != sampleRate {
		converted = resample(converted, sampleRate)
	}

	return converted
}

func remixChannels(clip Clip, channels int) Clip {
	frames := clip.Frames()
	out := make([]int, frames*channels)

	for frame := range frames {
		source := clip.Samples[frame*clip.Channels : (frame+1)*clip.Channels]

		if channels == 1 {
			sum := 0
			for _, value := range source {
				sum += value
			}

			out[frame] = sum / len(source)

			continue
		}

		for channel := range channels {
			out[frame*channels+channel] = source[channel%len(source)]
		}
	}

	return Clip{Samples: out, SampleRate: clip.SampleRate, Channels: channels}
}

func resample(clip Clip, sampleRate int) Clip {
	frames := clip.Frames()
	if frames == 0 || clip.SampleRate <= 0 {
		return Clip{Samples: nil, SampleRate: sampleRate, Channels: clip.Channels}
	}

	outFrames := int((int64(frames)*int64(sampleRate) + int64(clip.SampleRate)/2) / int64(clip.SampleRate))
	out := make([]int, outFrames*clip.Channels)
	ratio := float64(clip.SampleRate) / float64(sampleRate)

	for frame := range outFrames {
		position := float64(frame) * ratio
		left := int(position)
		fraction := position - float64(left)

		right := left + 1
		if right >= frames {
			right = frames - 1
		}

		if left >= frames {
			left = frames - 1
		}

		for channel := range clip.Channels {
			a := float64(clip.Samples[left*clip.Channels+channel])
			b := float64(clip.Samples[right*clip.Channels+channel])
			out[frame*clip.Channels+channel] = clamp16(int(a + (b-a)*fraction))
		}
	}

	return Clip{Samples: out, SampleRate: sampleRate, Channels: clip.Channels}
}

func clamp16(value int) int {
	if value > maxInt16 {
		return maxInt16
	}

	if value < minInt16 {
		return minInt16
	}

	return value
}
