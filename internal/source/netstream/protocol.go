package netstream

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"dvbrx/internal/source"
)

// Control frames arrive as JSON text messages.
const (
	frameControl  = "control"
	frameStatus   = "status"
	frameMetadata = "metadata"

	controlStart = "start"
	controlStop  = "stop"

	codePlayStart = "NetStream.Play.Start"
)

type controlFrame struct {
	Type         string `json:"type"`
	Event        string `json:"event,omitempty"`
	Code         string `json:"code,omitempty"`
	AudioCodecID *int   `json:"audiocodecid,omitempty"`
	VideoCodecID *int   `json:"videocodecid,omitempty"`
}

func parseControl(data []byte) (controlFrame, error) {
	var f controlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return controlFrame{}, fmt.Errorf("decode control frame: %w", err)
	}
	return f, nil
}

// mediaFrame is a binary message: tag type, 32-bit big-endian timestamp, payload.
type mediaFrame struct {
	tagType   byte
	timestamp uint32
	body      []byte
}

func parseMedia(data []byte) (mediaFrame, error) {
	if len(data) < 5 {
		return mediaFrame{}, fmt.Errorf("media frame too short: %d bytes", len(data))
	}
	f := mediaFrame{tagType: data[0], timestamp: binary.BigEndian.Uint32(data[1:5]), body: data[5:]}
	if f.tagType != tagAudio && f.tagType != tagVideo {
		return mediaFrame{}, fmt.Errorf("unexpected media tag type %d", f.tagType)
	}
	return f, nil
}

var (
	audioCodecs = map[int]source.Codec{2: source.CodecMP3, 10: source.CodecAAC}
	videoCodecs = map[int]source.Codec{7: source.CodecH264, 8: source.CodecH263}
)

// streams maps metadata codec ids onto the status stream table, keyed by
// FLV tag type. Unknown ids are kept as CodecUnknown.
func (f controlFrame) streams() map[int]source.Codec {
	out := make(map[int]source.Codec)
	if f.AudioCodecID != nil {
		out[tagAudio] = audioCodecs[*f.AudioCodecID]
	}
	if f.VideoCodecID != nil {
		out[tagVideo] = videoCodecs[*f.VideoCodecID]
	}
	return out
}
