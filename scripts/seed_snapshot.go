// seed_snapshot.go generates a synthetic day snapshot for covertool and for
// seeding a local backend.
//
// Usage:
//
//	go run scripts/seed_snapshot.go -employees 40 -clients 25 -out day.json
//	go run scripts/seed_snapshot.go -post http://localhost:8080/api/v1/snapshot
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

var qualifications = []string{"nursing", "sign_language", "autism", "first_aid"}

func main() {
	employees := flag.Int("employees", 30, "number of employees")
	clients := flag.Int("clients", 20, "number of clients")
	schools := flag.Int("schools", 8, "number of schools")
	seed := flag.Uint64("seed", 1, "random seed")
	date := flag.String("date", time.Now().Format(time.DateOnly), "snapshot date (YYYY-MM-DD)")
	out := flag.String("out", "", "write the snapshot to this file, stdout when empty")
	post := flag.String("post", "", "POST the snapshot to this URL instead of writing it")
	flag.Parse()

	if *employees < 1 || *schools < 1 {
		log.Fatal("need at least one employee and one school")
	}
	day, err := time.Parse(time.DateOnly, *date)
	if err != nil {
		log.Fatalf("parse date: %v", err)
	}
	snap := generate(rand.New(rand.NewPCG(*seed, *seed+1)), day, *employees, *clients, *schools)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}

	switch {
	case *post != "":
		resp, err := http.Post(*post, "application/json", bytes.NewReader(data))
		if err != nil {
			log.Fatalf("post snapshot: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Fatalf("post snapshot: status %d", resp.StatusCode)
		}
		fmt.Printf("posted snapshot with %d employees and %d clients\n", len(snap.Employees), len(snap.Clients))
	case *out != "":
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatalf("write snapshot: %v", err)
		}
		fmt.Printf("wrote %s\n", *out)
	default:
		os.Stdout.Write(data)
	}
}

func generate(rng *rand.Rand, day time.Time, nEmployees, nClients, nSchools int) roster.Snapshot {
	snap := roster.Snapshot{Date: day, Incidents: make(map[string]roster.Incident)}

	for i := 0; i < nEmployees; i++ {
		e := roster.Employee{
			ID:               fmt.Sprintf("E%03d", i+1),
			Qualifications:   roster.NewSet(pick(rng, 0.3)...),
			HasCar:           rng.Float64() < 0.6,
			Availability:     roster.BaseAvailability,
			CommuteTime:      make(map[string]float64),
			ClientExperience: make(map[string]int),
		}
		if rng.Float64() < 0.2 {
			e.Availability = roster.Interval{Start: 7, End: 12 + float64(rng.IntN(4))}
		}
		for s := 0; s < nSchools; s++ {
			// Raw distances; the service trims them at the cutoff.
			e.CommuteTime[schoolID(s)] = float64(1000 + rng.IntN(80000))
		}
		snap.Employees = append(snap.Employees, e)
	}

	for j := 0; j < nClients; j++ {
		c := roster.Client{
			ID:                   fmt.Sprintf("C%03d", j+1),
			NeededQualifications: roster.NewSet(pick(rng, 0.1)...),
			Priority:             1 + rng.IntN(roster.DefaultPriority),
			School:               schoolID(rng.IntN(nSchools)),
		}
		if rng.Float64() < 0.3 {
			c.TimeWindow = &roster.Interval{Start: 8, End: 11 + float64(rng.IntN(5))}
		}
		snap.Clients = append(snap.Clients, c)
		snap.Incidents[c.ID] = roster.Incident{ID: fmt.Sprintf("INC-%s-%03d", day.Format("20060102"), j+1)}

		// A few employees already know this client.
		for k := 0; k < 2; k++ {
			e := &snap.Employees[rng.IntN(nEmployees)]
			e.ClientExperience[c.ID] += 1 + rng.IntN(10)
		}
	}
	return snap
}

func pick(rng *rand.Rand, p float64) []string {
	var out []string
	for _, q := range qualifications {
		if rng.Float64() < p {
			out = append(out, q)
		}
	}
	return out
}

func schoolID(i int) string { return fmt.Sprintf("S%02d", i+1) }
