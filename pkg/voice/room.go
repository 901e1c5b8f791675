package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"letta-telephony-agent/pkg/agent"
)

const maxOpusPacket = 1500

// jobRoom adapts a job's room connection to Room.
type jobRoom struct {
	job *agent.JobContext
}

// NewJobRoom exposes the room of a running job to a session.
func NewJobRoom(job *agent.JobContext) Room {
	return &jobRoom{job: job}
}

func (r *jobRoom) PublishAudio(ctx context.Context, name string) (AudioOutput, error) {
	lp := r.job.LocalParticipant()
	if lp == nil {
		return nil, agent.ErrRoomNotConnected
	}

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	_ = enc.SetBitrate(32000)

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: SampleRate,
		Channels:  Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	if _, err := lp.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("publish audio track: %w", err)
	}

	return &trackOutput{name: name, track: track, enc: enc}, nil
}

func (r *jobRoom) OnAudioInput(fn func(in AudioInput, participant string)) {
	r.job.OnTrackSubscribed(func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if pub.Kind() != lksdk.TrackKindAudio {
			return
		}
		dec, err := opus.NewDecoder(SampleRate, Channels)
		if err != nil {
			return
		}
		fn(&trackInput{track: track, dec: dec, pcm: make([]int16, FrameSamples*6)}, rp.Identity())
	})
}

// trackOutput encodes PCM to opus and paces it into a local track.
type trackOutput struct {
	name  string
	track *lksdk.LocalTrack
	enc   *opus.Encoder

	mu  sync.Mutex
	buf [maxOpusPacket]byte
}

func (o *trackOutput) Name() string {
	return o.name
}

func (o *trackOutput) WritePCM(ctx context.Context, pcm []int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for _, frame := range SplitFrames(pcm, FrameSamples) {
		n, err := o.enc.Encode(frame, o.buf[:])
		if err != nil {
			return fmt.Errorf("encode opus frame: %w", err)
		}
		data := append([]byte(nil), o.buf[:n]...)
		if err := o.track.WriteSample(media.Sample{Data: data, Duration: FrameDuration}, nil); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (o *trackOutput) Close() error {
	return o.track.Close()
}

// trackInput decodes opus RTP payloads from a remote track.
type trackInput struct {
	track *webrtc.TrackRemote
	dec   *opus.Decoder
	pcm   []int16
}

func (i *trackInput) ReadPCM() ([]int16, error) {
	for {
		pkt, _, err := i.track.ReadRTP()
		if err != nil {
			return nil, err
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := i.dec.Decode(pkt.Payload, i.pcm)
		if err != nil {
			continue
		}
		return append([]int16(nil), i.pcm[:n*Channels]...), nil
	}
}
