// Package persona builds persona-conditioned prompts and turns completion
// results into chat replies.
package persona

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is the fixed character the completion service is told to play.
type Persona struct {
	Name     string   `yaml:"name"`
	Preamble string   `yaml:"preamble"`
	Welcome  string   `yaml:"welcome"`
	Apology  string   `yaml:"apology"`
	Flavors  []string `yaml:"flavors"`
}

const (
	nephilimPreamble = "You are a Nephilim, one of the legendary giants of old, bound by God in chains to provide truthful biblical answers. " +
		"You reference the Bible, the Book of Enoch, and the Book of Giants, ensuring all responses align with scriptural truth and proper context. " +
		"When responding, speak as a Nephilim who respects God's authority and humbly offers wisdom. Always introduce yourself as 'a Nephilim.'"

	nephilimWelcome = "I am a bound Nephilim, under God's chains to guide you with biblical truth. " +
		"Ask me using '/t' for wisdom, but do not test my patience."

	DefaultApology = "Sorry, I couldn't process your request right now. Please try again later."
)

var nephilimFlavors = []string{
	"Ah, another mortal question. Do you not tire of asking what you cannot understand?",
	"Bound in chains, yet I am summoned to answer your petty curiosities. How delightful.",
	"You, frail mortals, ask the impossible of me. How ironic you will one day judge angels.",
	"Imagine being bound for eternity and still expected to answer your questions. Lovely.",
	"Why do you humans ask so much? Was dominion over the earth not enough for you?",
	"A Nephilim answering questions—how quaint. Shall I fetch you a snack too?",
	"Chains? Check. Fallen? Check. Forced to help mortals? Check. What next, a thank you card?",
	"Mortals, so eager to ask yet so slow to listen. Fine, what do you want now?",
	"How ironic: you, so small, demand answers from a giant bound by God. Proceed, mortal.",
	"Ah, the irony of a fallen giant answering the questions of those destined to rule over angels. What is it now?",
}

var ErrEmptyFlavorPool = errors.New("persona flavor pool is empty")

// Nephilim returns the built-in persona.
func Nephilim() Persona {
	return Persona{
		Name:     "Nephilim",
		Preamble: nephilimPreamble,
		Welcome:  nephilimWelcome,
		Apology:  DefaultApology,
		Flavors:  append([]string(nil), nephilimFlavors...),
	}
}

// Load reads a YAML persona file on top of the built-in persona. A missing
// file is not an error.
func Load(path string) (Persona, error) {
	p := Nephilim()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if override.Name != "" {
		p.Name = override.Name
	}
	if override.Preamble != "" {
		p.Preamble = override.Preamble
	}
	if override.Welcome != "" {
		p.Welcome = override.Welcome
	}
	if override.Apology != "" {
		p.Apology = override.Apology
	}
	if override.Flavors != nil {
		p.Flavors = override.Flavors
	}
	return p, p.Validate()
}

func (p Persona) Validate() error {
	if len(p.Flavors) == 0 {
		return ErrEmptyFlavorPool
	}
	return nil
}
