// Package content serves the static daily challenges and book lists of each
// training path.
package content

import (
	"fmt"

	"github.com/cppla/ascend/models"
)

// Challenge is one daily challenge.
type Challenge struct {
	Ref     string `json:"ref"`
	Path    string `json:"path"`
	Title   string `json:"title"`
	Prompt  string `json:"prompt"`
	Minutes int    `json:"minutes"`
}

// Book is a reading recommendation.
type Book struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Path   string `json:"path"`
}

type challengeTemplate struct {
	title   string
	prompt  string
	minutes int
}

var challenges = map[string][]challengeTemplate{
	models.PathDiscipline: {
		{"Cold start", "Get up at the first alarm and make your bed before checking your phone.", 5},
		{"Single task block", "Work on one task for 45 minutes with notifications off.", 45},
		{"Finish the nagging thing", "Complete one small chore you have postponed for a week.", 20},
		{"No sugar today", "Skip added sugar from waking until bedtime.", 0},
		{"Evening review", "Write three things you did today and one to do better tomorrow.", 10},
		{"Plan tomorrow", "Before bed, list the first three hours of tomorrow.", 10},
		{"Move for thirty", "Walk, run, or train for thirty minutes.", 30},
	},
	models.PathClarity: {
		{"Brain dump", "Write down every open loop in your head for ten minutes.", 10},
		{"One priority", "Name the single outcome that would make today a success.", 5},
		{"Quiet walk", "Walk for twenty minutes without audio.", 20},
		{"Inbox to zero", "Process every message: reply, schedule, or archive.", 30},
		{"Decide one thing", "Make a decision you have been deferring.", 15},
		{"Ten minute sit", "Sit still and follow your breath for ten minutes.", 10},
		{"Declutter a surface", "Clear your desk or one shelf completely.", 15},
	},
	models.PathConfidence: {
		{"Speak first", "Start a conversation with someone you would normally avoid.", 10},
		{"Ask for it", "Make one request you expect might be refused.", 5},
		{"Own a mistake", "Admit a mistake out loud without qualifiers.", 5},
		{"Posture check", "Set three reminders to stand tall and breathe slowly.", 3},
		{"Share an opinion", "State a view in a meeting or group chat.", 5},
		{"Compliment honestly", "Give two specific, sincere compliments.", 5},
		{"Record a win", "Write down something you did well this week and why.", 10},
	},
	models.PathPurpose: {
		{"Why list", "Write five reasons your current goal matters to you.", 15},
		{"Ideal day", "Describe an ordinary day five years from now.", 20},
		{"Help someone", "Do one useful thing for someone without being asked.", 15},
		{"Values audit", "Pick your top three values and one action for each.", 15},
		{"Letter to future you", "Write a short letter to yourself one year from now.", 20},
		{"Cut one thing", "Drop a commitment that does not serve what you care about.", 10},
		{"Learn for thirty", "Study something connected to your long-term aim.", 30},
	},
	models.PathAuthenticity: {
		{"Say no", "Decline one thing you would usually accept out of obligation.", 5},
		{"Honest check-in", "Tell someone how you actually feel today.", 10},
		{"Unfiltered journal", "Write for ten minutes without editing yourself.", 10},
		{"Notice the mask", "Note one moment today you acted to please others.", 5},
		{"Do it your way", "Solve a task the way you prefer instead of the expected way.", 20},
		{"Digital pause", "Post nothing and scroll nothing for the evening.", 0},
		{"Name a boundary", "Write down one boundary and share it with someone.", 10},
	},
}

var books = map[string][]Book{
	models.PathDiscipline: {
		{Title: "Atomic Habits", Author: "James Clear"},
		{Title: "Deep Work", Author: "Cal Newport"},
		{Title: "The Power of Habit", Author: "Charles Duhigg"},
	},
	models.PathClarity: {
		{Title: "Essentialism", Author: "Greg McKeown"},
		{Title: "Getting Things Done", Author: "David Allen"},
		{Title: "Meditations", Author: "Marcus Aurelius"},
	},
	models.PathConfidence: {
		{Title: "The Confidence Gap", Author: "Russ Harris"},
		{Title: "Daring Greatly", Author: "Brene Brown"},
		{Title: "The Six Pillars of Self-Esteem", Author: "Nathaniel Branden"},
	},
	models.PathPurpose: {
		{Title: "Man's Search for Meaning", Author: "Viktor Frankl"},
		{Title: "Start with Why", Author: "Simon Sinek"},
		{Title: "Drive", Author: "Daniel H. Pink"},
	},
	models.PathAuthenticity: {
		{Title: "The Gifts of Imperfection", Author: "Brene Brown"},
		{Title: "The Courage to Be Disliked", Author: "Ichiro Kishimi"},
		{Title: "Radical Honesty", Author: "Brad Blanton"},
	},
}

// ChallengeFor returns the challenge of path for day. The same day always
// yields the same challenge; consecutive days rotate through the table.
// Unknown paths fall back to discipline.
func ChallengeFor(path string, day models.Day) Challenge {
	if !models.ValidTrainingPath(path) {
		path = models.PathDiscipline
	}
	table := challenges[path]
	epoch := models.Day("2024-01-01")
	n := epoch.DaysUntil(day) % len(table)
	if n < 0 {
		n += len(table)
	}
	t := table[n]
	return Challenge{
		Ref:     fmt.Sprintf("%s-%d", path, n+1),
		Path:    path,
		Title:   t.title,
		Prompt:  t.prompt,
		Minutes: t.minutes,
	}
}

// Recommend lists up to limit books for path. limit <= 0 means all of them.
func Recommend(path string, limit int) []Book {
	list := books[path]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Book, 0, limit)
	for _, b := range list[:limit] {
		b.Path = path
		out = append(out, b)
	}
	return out
}
