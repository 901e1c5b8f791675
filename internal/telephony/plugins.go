package telephony

import (
	"context"

	"letta-telephony-agent/internal/config"
	"letta-telephony-agent/pkg/agent"
	"letta-telephony-agent/pkg/plugins/cartesia"
	"letta-telephony-agent/pkg/plugins/deepgram"
	"letta-telephony-agent/pkg/plugins/openai"
	"letta-telephony-agent/pkg/voice"
)

// NewPlugins returns providers configured from cfg. lettaBaseURL may be
// empty to use the plugin's own default.
func NewPlugins(cfg *config.Config, lettaBaseURL string) Plugins {
	return Plugins{
		Letta: func(agentID string) (voice.LLM, error) {
			llm, err := openai.WithLetta(openai.LettaOptions{
				AgentID: agentID,
				BaseURL: lettaBaseURL,
				APIKey:  cfg.Letta.APIKey,
			})
			if err != nil {
				return nil, err
			}
			return llm, nil
		},
		Generic: func() (voice.LLM, error) {
			llm, err := openai.NewLLM(openai.Options{
				Model:  cfg.Speech.FallbackModel,
				APIKey: cfg.Speech.OpenAIAPIKey,
			})
			if err != nil {
				return nil, err
			}
			return llm, nil
		},
		STT: func() (voice.STT, error) {
			stt, err := deepgram.New(deepgram.Options{APIKey: cfg.Speech.DeepgramAPIKey})
			if err != nil {
				return nil, err
			}
			return stt, nil
		},
		TTS: func() (voice.TTS, error) {
			tts, err := cartesia.New(cartesia.Options{APIKey: cfg.Speech.CartesiaAPIKey})
			if err != nil {
				return nil, err
			}
			return tts, nil
		},
	}
}

// NewLettaProbe logs whether the agent is reachable at baseURL.
func NewLettaProbe(baseURL string, logger agent.Logger) ProbeFunc {
	return func(ctx context.Context, agentID string) {
		logger.Info("Testing Letta connection", "baseURL", baseURL, "agentID", agentID)
		res, err := openai.ProbeLettaAgent(ctx, nil, baseURL, agentID)
		switch {
		case err != nil:
			logger.Error("Cannot reach Letta", "error", err, "url", res.URL)
		case res.OK():
			logger.Info("Letta agent is accessible", "status", res.StatusCode, "latency", res.Latency)
		default:
			logger.Warn("Letta agent returned unexpected status", "status", res.StatusCode, "url", res.URL)
		}
	}
}
