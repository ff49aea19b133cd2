package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type Database struct {
	ConnectionString string `yaml:"connection_string"`
}

type Processor struct {
	Type string `yaml:"type"`

	OpenLibrary OpenLibrary `yaml:"openlibrary"`
}

type OpenLibrary struct {
	BaseURL string `yaml:"base_url"`
}

// Provider is the static configuration of one coverage provider.
type Provider struct {
	ServiceName      string   `yaml:"service_name"`
	DataSource       string   `yaml:"data_source"`
	Operation        string   `yaml:"operation"`
	Collection       string   `yaml:"collection"`
	CollectionScoped bool     `yaml:"collection_scoped"`
	IdentifierTypes  []string `yaml:"identifier_types"`
	BatchSize        int      `yaml:"batch_size"`
	CutoffDays       int      `yaml:"cutoff_days"`
	RegisteredOnly   bool     `yaml:"registered_only"`

	Processor Processor `yaml:"processor"`
}

type Local struct {
	Path string `yaml:"path"`
}

type S3 struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type Repository struct {
	Type string `yaml:"type"`

	LocalConfig Local `yaml:"local"`
	S3Config    S3    `yaml:"s3"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Coverage struct {
	Global    Global     `yaml:"global"`
	Database  Database   `yaml:"database"`
	Providers []Provider `yaml:"providers"`

	// Repository receives run reports, export artifacts and edition
	// payloads.
	Repository Repository `yaml:"repository"`

	Server Server `yaml:"server"`
}

func NewCoverageFromFile(fpath string) (*Coverage, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var coverage Coverage
	if err := yaml.Unmarshal(bs, &coverage); err != nil {
		return nil, err
	}

	return &coverage, nil
}
