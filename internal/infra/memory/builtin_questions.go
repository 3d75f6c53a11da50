package memory

import (
	"fmt"

	"quiz-match-service/internal/domain"
)

func mc(id, category string, difficulty int, prompt string, correct int, choices ...string) domain.Question {
	q := domain.Question{ID: id, Prompt: prompt, Category: category, Difficulty: difficulty}
	for i, text := range choices {
		q.Choices = append(q.Choices, domain.Choice{
			ID:      fmt.Sprintf("%s-%c", id, 'a'+i),
			Text:    text,
			Correct: i == correct,
		})
	}
	return q
}

// BuiltinQuestions is the pool served when no question store is configured or
// the store is unreachable.
func BuiltinQuestions() []domain.Question {
	return []domain.Question{
		mc("gen-1", "general", 1, "How many days are in a leap year?", 2, "364", "365", "366", "367"),
		mc("gen-2", "general", 1, "What colour do you get by mixing blue and yellow?", 0, "Green", "Purple", "Orange", "Brown"),
		mc("gen-3", "general", 1, "How many sides does a hexagon have?", 1, "5", "6", "7", "8"),
		mc("gen-4", "general", 2, "Which instrument has 88 keys?", 3, "Organ", "Harpsichord", "Accordion", "Piano"),
		mc("gen-5", "general", 2, "How many minutes are in a day?", 0, "1440", "1240", "1600", "960"),
		mc("gen-6", "general", 3, "What is the only letter that does not appear in any US state name?", 2, "J", "X", "Q", "Z"),
		mc("sci-1", "science", 1, "What planet is known as the Red Planet?", 1, "Venus", "Mars", "Jupiter", "Mercury"),
		mc("sci-2", "science", 1, "What gas do plants absorb from the air?", 0, "Carbon dioxide", "Oxygen", "Nitrogen", "Helium"),
		mc("sci-3", "science", 2, "What is the chemical symbol for gold?", 3, "Ag", "Gd", "Go", "Au"),
		mc("sci-4", "science", 2, "How many bones are in the adult human body?", 1, "196", "206", "216", "226"),
		mc("sci-5", "science", 3, "What particle carries the electromagnetic force?", 2, "Gluon", "W boson", "Photon", "Graviton"),
		mc("sci-6", "science", 3, "What is the most abundant element in the universe?", 0, "Hydrogen", "Helium", "Oxygen", "Carbon"),
		mc("geo-1", "geography", 1, "What is the capital of France?", 0, "Paris", "Lyon", "Marseille", "Nice"),
		mc("geo-2", "geography", 1, "Which ocean is the largest?", 3, "Atlantic", "Indian", "Arctic", "Pacific"),
		mc("geo-3", "geography", 2, "Which river flows through Cairo?", 1, "Tigris", "Nile", "Euphrates", "Jordan"),
		mc("geo-4", "geography", 2, "What is the capital of Australia?", 2, "Sydney", "Melbourne", "Canberra", "Perth"),
		mc("geo-5", "geography", 3, "Which country has the most natural lakes?", 0, "Canada", "Russia", "Finland", "Sweden"),
		mc("geo-6", "geography", 3, "What is the smallest country in Africa by area?", 3, "Gambia", "Eswatini", "Djibouti", "Seychelles"),
		mc("his-1", "history", 1, "Who was the first President of the United States?", 1, "John Adams", "George Washington", "Thomas Jefferson", "Abraham Lincoln"),
		mc("his-2", "history", 1, "In which year did World War II end?", 2, "1943", "1944", "1945", "1946"),
		mc("his-3", "history", 2, "Which empire built Machu Picchu?", 0, "Inca", "Aztec", "Maya", "Olmec"),
		mc("his-4", "history", 2, "Who painted the Mona Lisa?", 3, "Michelangelo", "Raphael", "Donatello", "Leonardo da Vinci"),
		mc("his-5", "history", 3, "Which treaty ended the Thirty Years' War?", 1, "Treaty of Utrecht", "Peace of Westphalia", "Treaty of Paris", "Congress of Vienna"),
		mc("his-6", "history", 3, "Who was the last Tsar of Russia?", 2, "Alexander III", "Peter III", "Nicholas II", "Ivan VI"),
	}
}
