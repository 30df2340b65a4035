package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/dubforge/internal/engine"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each of
// the seven internal/engine interfaces. It is safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	audioExtractor map[string]func(ProviderEntry) (engine.AudioExtractor, error)
	vocalSeparator map[string]func(ProviderEntry) (engine.VocalSeparator, error)
	speakerTracker map[string]func(ProviderEntry) (engine.SpeakerTracker, error)
	transcriber    map[string]func(ProviderEntry) (engine.Transcriber, error)
	translator     map[string]func(ProviderEntry) (engine.Translator, error)
	voiceCloner    map[string]func(ProviderEntry) (engine.VoiceCloner, error)
	muxer          map[string]func(ProviderEntry) (engine.Muxer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audioExtractor: make(map[string]func(ProviderEntry) (engine.AudioExtractor, error)),
		vocalSeparator: make(map[string]func(ProviderEntry) (engine.VocalSeparator, error)),
		speakerTracker: make(map[string]func(ProviderEntry) (engine.SpeakerTracker, error)),
		transcriber:    make(map[string]func(ProviderEntry) (engine.Transcriber, error)),
		translator:     make(map[string]func(ProviderEntry) (engine.Translator, error)),
		voiceCloner:    make(map[string]func(ProviderEntry) (engine.VoiceCloner, error)),
		muxer:          make(map[string]func(ProviderEntry) (engine.Muxer, error)),
	}
}

// RegisterAudioExtractor registers an AudioExtractor factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudioExtractor(name string, factory func(ProviderEntry) (engine.AudioExtractor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioExtractor[name] = factory
}

// RegisterVocalSeparator registers a VocalSeparator factory under name.
func (r *Registry) RegisterVocalSeparator(name string, factory func(ProviderEntry) (engine.VocalSeparator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vocalSeparator[name] = factory
}

// RegisterSpeakerTracker registers a SpeakerTracker factory under name.
func (r *Registry) RegisterSpeakerTracker(name string, factory func(ProviderEntry) (engine.SpeakerTracker, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speakerTracker[name] = factory
}

// RegisterTranscriber registers a Transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (engine.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterTranslator registers a Translator factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(ProviderEntry) (engine.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = factory
}

// RegisterVoiceCloner registers a VoiceCloner factory under name.
func (r *Registry) RegisterVoiceCloner(name string, factory func(ProviderEntry) (engine.VoiceCloner, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceCloner[name] = factory
}

// RegisterMuxer registers a Muxer factory under name.
func (r *Registry) RegisterMuxer(name string, factory func(ProviderEntry) (engine.Muxer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muxer[name] = factory
}

// CreateAudioExtractor instantiates an AudioExtractor using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateAudioExtractor(entry ProviderEntry) (engine.AudioExtractor, error) {
	r.mu.RLock()
	factory, ok := r.audioExtractor[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio_extractor/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVocalSeparator instantiates a VocalSeparator using the factory
// registered under entry.Name.
func (r *Registry) CreateVocalSeparator(entry ProviderEntry) (engine.VocalSeparator, error) {
	r.mu.RLock()
	factory, ok := r.vocalSeparator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vocal_separator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeakerTracker instantiates a SpeakerTracker using the factory
// registered under entry.Name.
func (r *Registry) CreateSpeakerTracker(entry ProviderEntry) (engine.SpeakerTracker, error) {
	r.mu.RLock()
	factory, ok := r.speakerTracker[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speaker_tracker/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber instantiates a Transcriber using the factory registered
// under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (engine.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslator instantiates a Translator using the factory registered
// under entry.Name.
func (r *Registry) CreateTranslator(entry ProviderEntry) (engine.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceCloner instantiates a VoiceCloner using the factory registered
// under entry.Name.
func (r *Registry) CreateVoiceCloner(entry ProviderEntry) (engine.VoiceCloner, error) {
	r.mu.RLock()
	factory, ok := r.voiceCloner[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice_cloner/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMuxer instantiates a Muxer using the factory registered under
// entry.Name.
func (r *Registry) CreateMuxer(entry ProviderEntry) (engine.Muxer, error) {
	r.mu.RLock()
	factory, ok := r.muxer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: muxer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
