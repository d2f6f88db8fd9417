// Command devbackend serves canned speech recognition, translation and
// synthesis responses so the hub can be run locally without model servers.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/Dankular/Babblefish/internal/audio"
)

const (
	ttsSampleRate = 24000
	toneHz        = 440
)

type transcriptionResponse struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float32 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type devBackend struct {
	logger *slog.Logger
	delay  time.Duration
}

func (d *devBackend) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		http.Error(w, "Invalid WAV", http.StatusBadRequest)
		return
	}
	duration := audio.SamplesDuration(len(samples), sampleRate)

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	d.logger.Info("Transcription request",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("model", r.FormValue("model")),
		slog.Int("sample_rate", sampleRate),
		slog.Duration("duration", duration),
	)

	time.Sleep(d.delay)

	writeJSON(w, transcriptionResponse{
		Text:       "this is a test transcription",
		Language:   language,
		Confidence: 0.95,
		Duration:   duration.Seconds(),
	})
}

func (d *devBackend) handleTranslate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]string{"status": "ok"})
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	d.logger.Info("Translation request",
		slog.String("source_lang", req.SourceLang),
		slog.String("target_lang", req.TargetLang),
		slog.Int("chars", len(req.Text)),
	)

	writeJSON(w, map[string]string{
		"translation": "[" + req.TargetLang + "] " + req.Text,
	})
}

func (d *devBackend) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// One short beep per word
	words := 1
	for _, c := range req.Text {
		if c == ' ' {
			words++
		}
	}
	wav, err := audio.EncodeWAV(tone(time.Duration(words)*150*time.Millisecond), ttsSampleRate)
	if err != nil {
		http.Error(w, "Synthesis failed", http.StatusInternalServerError)
		return
	}

	d.logger.Info("Synthesis request",
		slog.String("language", req.Language),
		slog.Int("words", words),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Write(wav)
}

func tone(d time.Duration) []int16 {
	samples := make([]int16, audio.DurationSamples(d, ttsSampleRate))
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*toneHz*float64(i)/ttsSampleRate))
	}
	return samples
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated transcription latency")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	d := &devBackend{logger: logger, delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", d.handleTranscribe)
	mux.HandleFunc("/translate", d.handleTranslate)
	mux.HandleFunc("/tts", d.handleSynthesize)

	logger.Info("Development backend starting",
		slog.String("address", *addr),
		slog.String("asr_endpoint", "/transcribe"),
		slog.String("translation_endpoint", "/translate"),
		slog.String("tts_fallback_url", "/tts"),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
