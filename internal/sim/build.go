package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"

	"epicore/internal/config"
	"epicore/internal/disease"
	"epicore/internal/hospital"
	"epicore/internal/infection"
	"epicore/internal/interaction"
	"epicore/internal/policy"
	"epicore/internal/rates"
	"epicore/internal/record"
	"epicore/internal/world"
)

// Build loads every configuration file named by cfg, generates the
// population and opens the recorder.
func Build(ctx context.Context, cfg *config.Config) (*Simulation, error) {
	start, err := cfg.Simulation.Start()
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}

	dcfg, err := disease.Load(cfg.Paths.Disease)
	if err != nil {
		return nil, fmt.Errorf("load disease: %w", err)
	}
	ratesPath := dcfg.RatesFile
	if cfg.Paths.Rates != "" {
		ratesPath = cfg.Paths.Rates
	}
	table, err := rates.LoadFile(ratesPath)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	index, err := rates.NewHealthIndex(dcfg, table, rates.Options{UseCareHomeRates: cfg.Simulation.UseCareHomeRates})
	if err != nil {
		return nil, fmt.Errorf("build health index: %w", err)
	}
	icfg, err := interaction.LoadConfig(cfg.Paths.Interaction)
	if err != nil {
		return nil, fmt.Errorf("load interaction: %w", err)
	}
	policies, err := policy.Load(cfg.Paths.Policy)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	w, err := world.Synthetic(cfg.SyntheticOptions(), rand.New(rand.NewPCG(cfg.Simulation.Seed, 1)))
	if err != nil {
		return nil, fmt.Errorf("generate world: %w", err)
	}
	log.Printf("world generated: people=%d groups=%d regions=%v", len(w.People), len(w.Groups), w.Regions)

	recorder, err := openRecorder(ctx, cfg.Recording)
	if err != nil {
		return nil, err
	}

	s, err := New(Env{
		Disease:   dcfg,
		Selector:  infection.NewSelector(dcfg, index),
		Engine:    interaction.NewEngine(icfg),
		Policies:  policies,
		World:     w,
		Hospitals: HospitalsFor(w, cfg.Hospitals.Beds, cfg.Hospitals.ICUBeds),
		Recorder:  recorder,
	}, Options{
		Seed:               cfg.Simulation.Seed,
		Start:              start,
		TotalDays:          cfg.Simulation.TotalDays,
		Workers:            cfg.Simulation.Workers,
		StopWhenExtinct:    cfg.Simulation.StopWhenExtinct,
		InitialCases:       cfg.Simulation.InitialCases,
		LeisureProbability: cfg.Simulation.LeisureProbability,
		Weekday:            cfg.Simulation.Weekday,
		Weekend:            cfg.Simulation.Weekend,
	})
	if err != nil {
		recorder.Close()
		return nil, err
	}
	return s, nil
}

// HospitalsFor creates one capacity tracker per hospital group in w, sharing
// the group's ID and region.
func HospitalsFor(w *world.World, beds, icuBeds int) *hospital.Hospitals {
	var hs []*hospital.Hospital
	for _, g := range w.Hospitals() {
		hs = append(hs, hospital.New(g.ID, g.Region, beds, icuBeds))
	}
	return hospital.NewHospitals(hs...)
}

func openRecorder(ctx context.Context, cfg config.RecordingConfig) (record.Sink, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		sink, err := record.NewSQLiteSink(cfg.SQLitePath, cfg.FlushSize)
		if err != nil {
			return nil, fmt.Errorf("open sqlite recorder: %w", err)
		}
		return sink, nil
	case config.BackendPostgres:
		sink, err := record.NewPostgresSink(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres recorder: %w", err)
		}
		return sink, nil
	case config.BackendRedis:
		sink, err := record.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("open redis recorder: %w", err)
		}
		return sink, nil
	default:
		return record.NewMemory(), nil
	}
}
