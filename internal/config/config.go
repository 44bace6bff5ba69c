// Package config loads the run configuration: where the disease, interaction
// and policy documents live, how the demo world is sized, the simulation
// clock, hospital capacity and the event recording backend.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"epicore/internal/simerr"
	"epicore/internal/world"
)

// Config holds all configuration for a run.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Simulation SimulationConfig `yaml:"simulation"`
	Paths      PathsConfig      `yaml:"paths"`
	World      WorldConfig      `yaml:"world"`
	Hospitals  HospitalsConfig  `yaml:"hospitals"`
	Recording  RecordingConfig  `yaml:"recording"`
}

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Interval is the wall-clock pause between simulated time steps.
	Interval time.Duration `yaml:"interval"`
}

// StepConfig splits a day into time steps. Durations are hours and must add
// up to 24; each step lists the activities people are routed through, in
// priority order.
type StepConfig struct {
	StepDuration   []float64  `yaml:"step_duration"`
	StepActivities [][]string `yaml:"step_activities"`
}

// SimulationConfig holds the clock and seeding configuration.
type SimulationConfig struct {
	Seed               uint64     `yaml:"seed"`
	StartDate          string     `yaml:"start_date"`
	TotalDays          float64    `yaml:"total_days"`
	Workers            int        `yaml:"workers"`
	StopWhenExtinct    bool       `yaml:"stop_when_extinct"`
	InitialCases       int        `yaml:"initial_cases"`
	UseCareHomeRates   bool       `yaml:"use_care_home_rates"`
	LeisureProbability float64    `yaml:"leisure_probability"`
	Weekday            StepConfig `yaml:"weekday"`
	Weekend            StepConfig `yaml:"weekend"`
}

// PathsConfig locates the domain documents. Relative paths resolve against
// the directory of the run config file.
type PathsConfig struct {
	Disease     string `yaml:"disease"`
	Interaction string `yaml:"interaction"`
	Policy      string `yaml:"policy"`
	// Rates overrides the disease document's rates_file when set.
	Rates string `yaml:"rates"`
}

// WorldConfig sizes the synthetic demo population.
type WorldConfig struct {
	Regions                []string `yaml:"regions"`
	SuperAreasPerRegion    int      `yaml:"super_areas_per_region"`
	HouseholdsPerSuperArea int      `yaml:"households_per_super_area"`
	MaxHouseholdSize       int      `yaml:"max_household_size"`
	CareHomesPerSuperArea  int      `yaml:"care_homes_per_super_area"`
	CareHomeResidents      int      `yaml:"care_home_residents"`
	SchoolsPerSuperArea    int      `yaml:"schools_per_super_area"`
	CompaniesPerSuperArea  int      `yaml:"companies_per_super_area"`
	VenuesPerSuperArea     int      `yaml:"venues_per_super_area"`
	EmploymentRate         float64  `yaml:"employment_rate"`
}

// HospitalsConfig holds per-hospital bed counts.
type HospitalsConfig struct {
	PerRegion int `yaml:"per_region"`
	Beds      int `yaml:"beds"`
	ICUBeds   int `yaml:"icu_beds"`
}

// RecordingConfig selects where events go.
type RecordingConfig struct {
	Backend       string `yaml:"backend"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresURL   string `yaml:"postgres_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisChannel  string `yaml:"redis_channel"`
	FlushSize     int    `yaml:"flush_size"`
}

// Recording backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Load loads configuration from a YAML file, expanding environment variables
// first. Missing fields take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, simerr.Configf(path, err, "valid YAML run configuration")
	}
	cfg.fillBlanks()
	cfg.Paths.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (p *PathsConfig) resolve(dir string) {
	for _, s := range []*string{&p.Disease, &p.Interaction, &p.Policy, &p.Rates} {
		if *s != "" && !filepath.IsAbs(*s) {
			*s = filepath.Join(dir, *s)
		}
	}
}

// Default returns the built-in configuration: a three-step weekday and a
// two-step weekend over the default synthetic world.
func Default() *Config {
	opts := world.DefaultSyntheticOptions()
	return &Config{
		Server: ServerConfig{Addr: ":8080", Interval: time.Second},
		Simulation: SimulationConfig{
			Seed:               1,
			StartDate:          "2020-03-01",
			TotalDays:          120,
			Workers:            4,
			InitialCases:       10,
			UseCareHomeRates:   true,
			LeisureProbability: 0.3,
			Weekday: StepConfig{
				StepDuration: []float64{8, 4, 12},
				StepActivities: [][]string{
					{world.ActivityMedical, world.ActivityPrimary, world.ActivityResidence},
					{world.ActivityMedical, world.ActivityLeisure, world.ActivityResidence},
					{world.ActivityMedical, world.ActivityResidence},
				},
			},
			Weekend: StepConfig{
				StepDuration: []float64{12, 12},
				StepActivities: [][]string{
					{world.ActivityMedical, world.ActivityLeisure, world.ActivityResidence},
					{world.ActivityMedical, world.ActivityResidence},
				},
			},
		},
		Paths: PathsConfig{
			Disease:     "configs/disease/covid19.yaml",
			Interaction: "configs/interaction.yaml",
			Policy:      "configs/policy.yaml",
		},
		World: WorldConfig{
			Regions:                opts.Regions,
			SuperAreasPerRegion:    opts.SuperAreasPerRegion,
			HouseholdsPerSuperArea: opts.HouseholdsPerSuperArea,
			MaxHouseholdSize:       opts.MaxHouseholdSize,
			CareHomesPerSuperArea:  opts.CareHomesPerSuperArea,
			CareHomeResidents:      opts.CareHomeResidents,
			SchoolsPerSuperArea:    opts.SchoolsPerSuperArea,
			CompaniesPerSuperArea:  opts.CompaniesPerSuperArea,
			VenuesPerSuperArea:     opts.VenuesPerSuperArea,
			EmploymentRate:         opts.EmploymentRate,
		},
		Hospitals: HospitalsConfig{PerRegion: opts.HospitalsPerRegion, Beds: 40, ICUBeds: 8},
		Recording: RecordingConfig{Backend: BackendMemory, FlushSize: 1000, RedisChannel: "epicore:events"},
	}
}

// fillBlanks restores defaults for fields an unset environment variable
// expanded to nothing.
func (c *Config) fillBlanks() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.Interval <= 0 {
		c.Server.Interval = def.Server.Interval
	}
	if c.Recording.Backend == "" {
		c.Recording.Backend = def.Recording.Backend
	}
	if c.Recording.RedisChannel == "" {
		c.Recording.RedisChannel = def.Recording.RedisChannel
	}
	if c.Recording.FlushSize <= 0 {
		c.Recording.FlushSize = def.Recording.FlushSize
	}
	if c.Simulation.Workers <= 0 {
		c.Simulation.Workers = 1
	}
}

// LoadFromEnv builds a configuration from EPICORE_* environment variables on
// top of the defaults.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.Server.Addr = getEnv("EPICORE_ADDR", cfg.Server.Addr)
	cfg.Server.Interval = getEnvDuration("EPICORE_INTERVAL", cfg.Server.Interval)
	cfg.Simulation.Seed = uint64(getEnvInt("EPICORE_SEED", int(cfg.Simulation.Seed)))
	cfg.Simulation.StartDate = getEnv("EPICORE_START_DATE", cfg.Simulation.StartDate)
	cfg.Simulation.TotalDays = getEnvFloat("EPICORE_TOTAL_DAYS", cfg.Simulation.TotalDays)
	cfg.Simulation.Workers = getEnvInt("EPICORE_WORKERS", cfg.Simulation.Workers)
	cfg.Simulation.InitialCases = getEnvInt("EPICORE_INITIAL_CASES", cfg.Simulation.InitialCases)
	cfg.Simulation.StopWhenExtinct = getEnvBool("EPICORE_STOP_WHEN_EXTINCT", cfg.Simulation.StopWhenExtinct)
	cfg.Paths.Disease = getEnv("EPICORE_DISEASE", cfg.Paths.Disease)
	cfg.Paths.Interaction = getEnv("EPICORE_INTERACTION", cfg.Paths.Interaction)
	cfg.Paths.Policy = getEnv("EPICORE_POLICY", cfg.Paths.Policy)
	cfg.Hospitals.Beds = getEnvInt("EPICORE_HOSPITAL_BEDS", cfg.Hospitals.Beds)
	cfg.Hospitals.ICUBeds = getEnvInt("EPICORE_ICU_BEDS", cfg.Hospitals.ICUBeds)
	cfg.Recording.Backend = getEnv("EPICORE_RECORDING", cfg.Recording.Backend)
	cfg.Recording.SQLitePath = getEnv("EPICORE_SQLITE_PATH", cfg.Recording.SQLitePath)
	cfg.Recording.PostgresURL = getEnv("DATABASE_URL", cfg.Recording.PostgresURL)
	cfg.Recording.RedisAddr = getEnv("REDIS_ADDR", cfg.Recording.RedisAddr)
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := c.Simulation.Start(); err != nil {
		return simerr.Configf("simulation.start_date", err, "a YYYY-MM-DD date")
	}
	if c.Simulation.TotalDays <= 0 {
		return simerr.Config("simulation.total_days", "a positive number of days", fmt.Sprint(c.Simulation.TotalDays))
	}
	if c.Simulation.InitialCases < 0 {
		return simerr.Config("simulation.initial_cases", "a non-negative count", fmt.Sprint(c.Simulation.InitialCases))
	}
	if p := c.Simulation.LeisureProbability; p < 0 || p > 1 {
		return simerr.Config("simulation.leisure_probability", "a probability in [0,1]", fmt.Sprint(p))
	}
	if err := c.Simulation.Weekday.validate("simulation.weekday"); err != nil {
		return err
	}
	if err := c.Simulation.Weekend.validate("simulation.weekend"); err != nil {
		return err
	}
	if c.Hospitals.Beds < 0 || c.Hospitals.ICUBeds < 0 {
		return simerr.Config("hospitals", "non-negative bed counts", fmt.Sprintf("beds=%d icu_beds=%d", c.Hospitals.Beds, c.Hospitals.ICUBeds))
	}
	switch c.Recording.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Recording.SQLitePath == "" {
			return simerr.Config("recording.sqlite_path", "a database path for the sqlite backend", "empty")
		}
	case BackendPostgres:
		if c.Recording.PostgresURL == "" {
			return simerr.Config("recording.postgres_url", "a connection URL for the postgres backend", "empty")
		}
	case BackendRedis:
		if c.Recording.RedisAddr == "" {
			return simerr.Config("recording.redis_addr", "an address for the redis backend", "empty")
		}
	default:
		return simerr.Config("recording.backend", "one of memory, sqlite, postgres, redis", fmt.Sprintf("%q", c.Recording.Backend))
	}
	return nil
}

var activities = map[string]bool{
	world.ActivityResidence: true,
	world.ActivityPrimary:   true,
	world.ActivityLeisure:   true,
	world.ActivityMedical:   true,
	world.ActivityCommute:   true,
}

func (s StepConfig) validate(key string) error {
	if len(s.StepDuration) == 0 {
		return simerr.Config(key+".step_duration", "at least one step", "none")
	}
	if len(s.StepDuration) != len(s.StepActivities) {
		return simerr.Config(key, "one activity list per step",
			fmt.Sprintf("%d durations and %d activity lists", len(s.StepDuration), len(s.StepActivities)))
	}
	total := 0.0
	for i, d := range s.StepDuration {
		if d <= 0 {
			return simerr.Config(fmt.Sprintf("%s.step_duration.%d", key, i), "a positive number of hours", fmt.Sprint(d))
		}
		total += d
	}
	if math.Abs(total-24) > 1e-9 {
		return simerr.Config(key+".step_duration", "durations adding up to 24 hours", fmt.Sprint(total))
	}
	for i, acts := range s.StepActivities {
		for _, a := range acts {
			if !activities[a] {
				return simerr.Config(fmt.Sprintf("%s.step_activities.%d", key, i), "a known activity", fmt.Sprintf("%q", a))
			}
		}
	}
	return nil
}

// Start parses the start date.
func (s SimulationConfig) Start() (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(s.StartDate))
}

// SyntheticOptions converts the world section into generator options.
func (c *Config) SyntheticOptions() world.SyntheticOptions {
	return world.SyntheticOptions{
		Regions:                c.World.Regions,
		SuperAreasPerRegion:    c.World.SuperAreasPerRegion,
		HouseholdsPerSuperArea: c.World.HouseholdsPerSuperArea,
		MaxHouseholdSize:       c.World.MaxHouseholdSize,
		CareHomesPerSuperArea:  c.World.CareHomesPerSuperArea,
		CareHomeResidents:      c.World.CareHomeResidents,
		SchoolsPerSuperArea:    c.World.SchoolsPerSuperArea,
		CompaniesPerSuperArea:  c.World.CompaniesPerSuperArea,
		VenuesPerSuperArea:     c.World.VenuesPerSuperArea,
		HospitalsPerRegion:     c.Hospitals.PerRegion,
		EmploymentRate:         c.World.EmploymentRate,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
