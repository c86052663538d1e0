package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"campushub.org/internal/event"
	"campushub.org/internal/registration"
	"campushub.org/internal/sessionclient"
)

func main() {
	log.SetFlags(0)
	var (
		baseURL  = flag.String("url", envOr("CAMPUSHUB_URL", "http://localhost:8080"), "API base URL")
		admin    = flag.String("admin", "dept@campus.edu", "department admin email")
		student  = flag.String("student", "student@campus.edu", "student email")
		password = flag.String("password", os.Getenv("CAMPUSHUB_SMOKE_PASSWORD"), "password shared by both accounts")
		timeout  = flag.Duration("timeout", 15*time.Second, "overall deadline")
		refresh  = flag.Duration("refresh-timeout", 5*time.Second, "deadline for one token refresh")
	)
	flag.Parse()
	if *password == "" {
		log.Fatal("missing password: provide via --password or CAMPUSHUB_SMOKE_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	adminClient := sessionclient.New(*baseURL, sessionclient.WithRefreshTimeout(*refresh))
	studentClient := sessionclient.New(*baseURL, sessionclient.WithRefreshTimeout(*refresh))

	adminUser, err := adminClient.Login(ctx, *admin, *password)
	if err != nil {
		log.Fatalf("login %s: %v", *admin, err)
	}
	if _, err := studentClient.Login(ctx, *student, *password); err != nil {
		log.Fatalf("login %s: %v", *student, err)
	}

	now := time.Now().UTC()
	var e event.Event
	err = adminClient.Call(ctx, http.MethodPost, "/v1/events", event.Input{
		Title:                fmt.Sprintf("Smoke test %d", now.Unix()),
		Description:          "created by smoke-events",
		Venue:                "Lab 1",
		DepartmentID:         adminUser.DepartmentID,
		MaxCapacity:          1,
		RegistrationDeadline: now.Add(time.Hour),
		Date:                 now.Add(2 * time.Hour),
	}, &e)
	if err != nil {
		log.Fatalf("create event: %v", err)
	}
	base := "/v1/events/" + e.ID

	steps := []struct {
		path string
		body any
		want event.Status
	}{
		{base + "/submit", nil, event.StatusPendingApproval},
		{base + "/approval", map[string]string{"action": "approve"}, event.StatusApproved},
		{base + "/publish", nil, event.StatusPublished},
	}
	for _, s := range steps {
		if err := adminClient.Call(ctx, http.MethodPost, s.path, s.body, &e); err != nil {
			log.Fatalf("POST %s: %v", s.path, err)
		}
		if e.Status != s.want {
			log.Fatalf("POST %s: expected %s, got %s", s.path, s.want, e.Status)
		}
	}

	var reg registration.Registration
	if err := studentClient.Call(ctx, http.MethodPost, base+"/register", nil, &reg); err != nil {
		log.Fatalf("register: %v", err)
	}
	if err := adminClient.Call(ctx, http.MethodGet, base, nil, &e); err != nil {
		log.Fatalf("get event: %v", err)
	}
	if e.CurrentRegistrations != 1 {
		log.Fatalf("expected 1 registration, got %d", e.CurrentRegistrations)
	}
	if err := studentClient.Call(ctx, http.MethodDelete, base+"/register", nil, nil); err != nil {
		log.Fatalf("cancel registration: %v", err)
	}
	if err := adminClient.Call(ctx, http.MethodGet, base, nil, &e); err != nil {
		log.Fatalf("get event: %v", err)
	}
	if e.CurrentRegistrations != 0 {
		log.Fatalf("expected seat released, got %d registrations", e.CurrentRegistrations)
	}

	_ = studentClient.Logout(ctx)
	_ = adminClient.Logout(ctx)
	fmt.Printf("smoke-events passed: event=%s registration=%s\n", e.ID, reg.ID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
