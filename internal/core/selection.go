package core

import (
	"errors"
	"fmt"
)

type Mode string

const (
	ModeManual  Mode = "manual"
	ModeScoring Mode = "scoring"
	ModeRanking Mode = "ranking"

	minScore = 1
	maxScore = 10
)

var (
	ErrInvalidMode   = errors.New("invalid selection mode")
	ErrWrongMode     = errors.New("operation not allowed in current selection mode")
	ErrUnknownOption = errors.New("unknown response option")
	ErrInvalidScore  = fmt.Errorf("score must be between %d and %d", minScore, maxScore)
	ErrNoOptions     = errors.New("no response options to choose from")
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeManual, ModeScoring, ModeRanking:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type Direction int

const (
	MoveUp Direction = iota
	MoveDown
)

// Resolution is the outcome of a selection session: the winning option, the content to
// persist, and the per-option scores or rank positions collected on the way.
type Resolution struct {
	Option  ResponseOption
	Content string
	Mode    Mode
	Scores  map[string]int // scoring mode only
	Ranks   map[string]int // ranking mode only; 1 is the top position
}

// Session holds the candidates of one pending exchange until the user resolves it.
// It is not safe for concurrent use; ChatService serializes access.
type Session struct {
	options []ResponseOption
	mode    Mode
	scores  map[string]int
	ranks   []string // option ids, top first
}

func NewSession(options []ResponseOption, mode Mode) *Session {
	s := &Session{options: options, mode: ModeManual}
	s.reset(mode)
	return s
}

func (s *Session) Mode() Mode {
	return s.mode
}

// Options returns the candidates in generation order with any assigned scores filled in.
func (s *Session) Options() []ResponseOption {
	out := make([]ResponseOption, len(s.options))
	for i, opt := range s.options {
		out[i] = ResponseOption{ID: opt.ID, Content: opt.Content}
		if score, ok := s.scores[opt.ID]; ok {
			out[i].Score = &score
		}
	}
	return out
}

// Ranking returns the current rank order, or nil outside ranking mode.
func (s *Session) Ranking() []string {
	if s.ranks == nil {
		return nil
	}
	return append([]string(nil), s.ranks...)
}

// SetMode switches modes. Any change drops scores and rank adjustments but keeps the options.
func (s *Session) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if mode == s.mode {
		return nil
	}
	s.reset(mode)
	return nil
}

func (s *Session) reset(mode Mode) {
	s.mode = mode
	s.scores = nil
	s.ranks = nil
	switch mode {
	case ModeScoring:
		s.scores = make(map[string]int, len(s.options))
	case ModeRanking:
		s.ranks = make([]string, len(s.options))
		for i, opt := range s.options {
			s.ranks[i] = opt.ID
		}
	}
}

func (s *Session) Select(id string) (*Resolution, error) {
	if s.mode != ModeManual {
		return nil, ErrWrongMode
	}
	if len(s.options) == 0 {
		return nil, ErrNoOptions
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	opt := s.options[idx]
	return &Resolution{Option: opt, Content: opt.Content, Mode: ModeManual}, nil
}

// Score records a 1..10 score. It returns a resolution once every option is scored and
// nil while some are still missing. Re-scoring an option before then overwrites it.
func (s *Session) Score(id string, score int) (*Resolution, error) {
	if s.mode != ModeScoring {
		return nil, ErrWrongMode
	}
	if len(s.options) == 0 {
		return nil, ErrNoOptions
	}
	if score < minScore || score > maxScore {
		return nil, ErrInvalidScore
	}
	if s.indexOf(id) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}
	s.scores[id] = score
	if len(s.scores) < len(s.options) {
		return nil, nil
	}

	// Strict comparison keeps the earliest option on ties.
	best := 0
	for i, opt := range s.options {
		if s.scores[opt.ID] > s.scores[s.options[best].ID] {
			best = i
		}
	}
	winner := s.options[best]
	top := s.scores[winner.ID]

	tied := -1
	for _, v := range s.scores {
		if v == top {
			tied++
		}
	}

	scores := make(map[string]int, len(s.scores))
	for k, v := range s.scores {
		scores[k] = v
	}
	return &Resolution{
		Option:  winner,
		Content: winner.Content + scoreAnnotation(top, tied),
		Mode:    ModeScoring,
		Scores:  scores,
	}, nil
}

func scoreAnnotation(score, tied int) string {
	switch tied {
	case 0:
		return fmt.Sprintf(" (Score: %d/10)", score)
	case 1:
		return fmt.Sprintf(" (Score: %d/10 - tied with 1 other)", score)
	default:
		return fmt.Sprintf(" (Score: %d/10 - tied with %d others)", score, tied)
	}
}

// Move swaps the option with its neighbour in the rank order. Moving past either end
// leaves the order unchanged.
func (s *Session) Move(id string, dir Direction) error {
	if s.mode != ModeRanking {
		return ErrWrongMode
	}
	pos := -1
	for i, rid := range s.ranks {
		if rid == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownOption, id)
	}

	target := pos - 1
	if dir == MoveDown {
		target = pos + 1
	}
	if target < 0 || target >= len(s.ranks) {
		return nil
	}
	s.ranks[pos], s.ranks[target] = s.ranks[target], s.ranks[pos]
	return nil
}

func (s *Session) ConfirmRanking() (*Resolution, error) {
	if s.mode != ModeRanking {
		return nil, ErrWrongMode
	}
	if len(s.ranks) == 0 {
		return nil, ErrNoOptions
	}
	winner := s.options[s.indexOf(s.ranks[0])]

	ranks := make(map[string]int, len(s.ranks))
	for i, id := range s.ranks {
		ranks[id] = i + 1
	}
	return &Resolution{
		Option:  winner,
		Content: fmt.Sprintf("%s (Ranked 1st out of %d responses)", winner.Content, len(s.ranks)),
		Mode:    ModeRanking,
		Ranks:   ranks,
	}, nil
}

func (s *Session) indexOf(id string) int {
	for i, opt := range s.options {
		if opt.ID == id {
			return i
		}
	}
	return -1
}
