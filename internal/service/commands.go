package service

import (
	"nutrient_mixer/internal/command"
)

// Enqueuer is the non-blocking side of the dispatcher queue.
type Enqueuer interface {
	Enqueue(raw string) bool
}

type CommandService struct {
	q Enqueuer
}

func NewCommandService(q Enqueuer) *CommandService {
	return &CommandService{q: q}
}

// Submit checks the grammar up front so the caller gets a syntax error back,
// then queues the line. A full queue yields command.ErrQueueFull.
func (s *CommandService) Submit(line string) (command.Command, error) {
	cmd, err := command.Parse(line)
	if err != nil {
		return nil, err
	}
	if !s.q.Enqueue(line) {
		return nil, command.ErrQueueFull
	}
	return cmd, nil
}
