package generator

import (
	"context"
	"math/rand"
	"time"
)

// Job kinds
const (
	KindText     = "text"
	KindReaction = "reaction"
)

// Job is one action a soak worker performs
type Job struct {
	Seq   int
	Kind  string
	Text  string
	Emoji string
}

var phrases = []string{
	"Hello from the library!", "Anyone near the main building?", "Coffee in five?",
	"Is the lecture cancelled?", "Good morning", "Good night", "See you later",
	"Who has the notes from yesterday?", "Study group at 6", "The wifi is down again",
	"Lunch at the cafeteria?", "Exam moved to Friday", "Thanks!", "On my way",
	"Parking is full", "Free pizza on the second floor", "Anyone selling a bike?",
	"Lost my keys near the gym", "Great talk today", "Ping", "Pong",
}

var emojis = []string{"👍", "❤️", "😂", "😮", "😢", "🔥"}

// Generator produces Total jobs on Output and closes it when done. About one
// job in twenty is a reaction once any text has been sent.
type Generator struct {
	Total  int
	Output chan Job
	rnd    *rand.Rand
}

func NewGenerator(total, bufferSize int) *Generator {
	return &Generator{
		Total:  total,
		Output: make(chan Job, bufferSize),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits jobs until Total is reached or ctx is done.
func (g *Generator) Run(ctx context.Context) {
	defer close(g.Output)

	for i := 0; i < g.Total; i++ {
		job := Job{Seq: i, Kind: KindText, Text: phrases[g.rnd.Intn(len(phrases))]}
		if i > 0 && g.rnd.Float64() < 0.05 {
			job = Job{Seq: i, Kind: KindReaction, Emoji: emojis[g.rnd.Intn(len(emojis))]}
		}
		select {
		case g.Output <- job:
		case <-ctx.Done():
			return
		}
	}
}
