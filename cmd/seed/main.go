package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/rimaclabs/appointment-pipeline/internal/appointment"
	"github.com/rimaclabs/appointment-pipeline/internal/db"
	"github.com/rimaclabs/appointment-pipeline/internal/outbox"
)

// seed fills the primary store with pending appointments for local testing.
// Rows go straight through the repository, so no events are published.
func main() {
	count := flag.Int("count", 500, "number of appointments to create")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	repo := appointment.NewPgRepository(pool, outbox.NewStore(pool))

	created := 0
	skipped := 0
	for created < *count {
		appt, err := randomAppointment()
		if err != nil {
			log.Fatalf("build appointment: %v", err)
		}

		err = repo.Save(context.Background(), appt, nil)
		if errors.Is(err, appointment.ErrConflict) {
			skipped++
			continue
		}
		if err != nil {
			log.Fatalf("save appointment: %v", err)
		}
		created++
	}

	log.Printf("seed complete: created=%d skipped_duplicates=%d", created, skipped)
}

func randomAppointment() (appointment.Appointment, error) {
	countries := []appointment.CountryISO{appointment.CountryPE, appointment.CountryCL}

	insuredID := fmt.Sprintf("%05d", gofakeit.Number(1, 99999))
	scheduleID := gofakeit.Number(1, 5000)
	country := countries[gofakeit.Number(0, 1)]

	centerID := gofakeit.Number(1, 50)
	specialtyID := gofakeit.Number(1, 30)
	medicID := gofakeit.Number(1, 400)
	slot := gofakeit.DateRange(time.Now(), time.Now().AddDate(0, 2, 0))

	return appointment.New(insuredID, scheduleID, country, appointment.ScheduleDetails{
		CenterID:     &centerID,
		SpecialtyID:  &specialtyID,
		MedicID:      &medicID,
		SlotDatetime: &slot,
	}, time.Now())
}
