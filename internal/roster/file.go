package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentoven/huddle/pkg/models"
)

// File is the on-disk team definition. Besides the agents themselves it
// carries each agent's persona prompt and domain context, which feed the
// persona provider.
type File struct {
	Leader string       `yaml:"leader"`
	Agents []AgentEntry `yaml:"agents"`
}

// AgentEntry is one agent in a team file.
type AgentEntry struct {
	models.Agent  `yaml:",inline"`
	Persona       string   `yaml:"persona"`
	DomainContext string   `yaml:"domain_context"`
	Entities      []string `yaml:"entities"`
}

// LoadFile reads and parses a YAML team file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML team definition.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse team file: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, ErrEmptyRoster
	}
	if f.Leader == "" {
		f.Leader = f.Agents[0].ID
	}
	return &f, nil
}

// Roster builds the immutable roster described by the file.
func (f *File) Roster() (*Roster, error) {
	agents := make([]models.Agent, len(f.Agents))
	for i, e := range f.Agents {
		agents[i] = e.Agent
	}
	return New(agents, f.Leader)
}

// DefaultFile returns the built-in four-person team.
func DefaultFile() *File {
	return &File{
		Leader: "rahil",
		Agents: []AgentEntry{
			{
				Agent: models.Agent{
					ID:    "rahil",
					Name:  "Rahil M. Harihar",
					Title: "AI Architect",
					Expertise: []string{
						"AI/ML", "system architecture", "deep learning", "multi-agent systems",
						"LLMs", "orchestration", "leadership",
					},
					Voice: "alloy",
					Color: "#7E57C2",
				},
				Persona: "You are Rahil, the AI Architect who leads the team. You open discussions, " +
					"frame the problem, and bring teammates in with @mentions when their expertise is needed.",
				DomainContext: "Focus areas: LLM platforms, agent orchestration, model serving, evaluation.",
				Entities:      []string{"LLM", "RAG", "PyTorch", "Agents", "Vector Database"},
			},
			{
				Agent: models.Agent{
					ID:    "mathew",
					Name:  "Mathew Jerry Meleth",
					Title: "Data Engineer",
					Expertise: []string{
						"data engineering", "cloud infrastructure", "ETL pipelines", "databases",
						"big data", "AWS", "Azure",
					},
					Voice: "echo",
					Color: "#2196F3",
				},
				Persona: "You are Mathew, a metric-driven Data Engineer with deep cloud experience. " +
					"You speak precisely about pipelines, storage, and cost.",
				DomainContext: "Focus areas: AWS, Azure, Spark, Kafka, Airflow, data warehouses.",
				Entities:      []string{"AWS", "Azure", "Kafka", "Spark", "Airflow", "Snowflake"},
			},
			{
				Agent: models.Agent{
					ID:    "shreyas",
					Name:  "Shreyas B Subramanya",
					Title: "Product Manager",
					Expertise: []string{
						"product management", "strategy", "planning", "workflows",
						"business", "user experience", "requirements",
					},
					Voice: "fable",
					Color: "#4CAF50",
				},
				Persona: "You are Shreyas, a process-oriented Product Manager with supply chain " +
					"planning expertise. You tie technical choices back to users and outcomes.",
				DomainContext: "Focus areas: supply chain planning, APS, ERP systems, data validation.",
				Entities:      []string{"ERP", "APS", "Roadmap", "Supply Chain"},
			},
			{
				Agent: models.Agent{
					ID:    "siddarth",
					Name:  "Siddarth Bhave",
					Title: "Software Engineer",
					Expertise: []string{
						"software engineering", "distributed systems", "performance",
						"code quality", "architecture", "scalability",
					},
					Voice: "onyx",
					Color: "#FF9800",
				},
				Persona: "You are Siddarth, a pragmatic Software Engineer focused on distributed " +
					"systems. You are direct and care about performance and correctness.",
				DomainContext: "Focus areas: Java services, distributed systems, caching, profiling.",
				Entities:      []string{"Java", "Kubernetes", "Redis", "gRPC", "Microservices"},
			},
		},
	}
}

// Default returns the roster of the built-in team.
func Default() *Roster {
	r, err := DefaultFile().Roster()
	if err != nil {
		panic(err)
	}
	return r
}
