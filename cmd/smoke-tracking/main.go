package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"parceltrack.org/internal/client"
	"parceltrack.org/internal/ids"
)

func main() {
	base := os.Getenv("PARCELTRACK_URL")
	if base == "" {
		base = "http://localhost:3000"
	}

	// Requests are paced below the server's per-IP limit.
	user, err := client.New(base, client.WithRateLimit(5, 2))
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	anon, err := client.New(base, client.WithRateLimit(5, 2))
	if err != nil {
		log.Fatalf("client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id := ids.NewUserID()
	tn := "SMK" + strings.ToUpper(id[len(id)-12:])
	sess, err := user.Signup(ctx, client.SignupInput{
		FirstName: "Smoke",
		Username:  "smoke-" + id,
		Email:     "smoke-" + id + "@example.com",
		Password:  "smoke-" + id,
	})
	if err != nil {
		log.Fatalf("signup: %v", err)
	}

	carrier, lat, lng := "SmokeExpress", 43.2389, 76.8897
	if _, err := user.CreatePackage(ctx, client.CreatePackage{
		TrackingNumber:  tn,
		Carrier:         &carrier,
		LastLocationLat: &lat,
		LastLocationLng: &lng,
	}); err != nil {
		log.Fatalf("create %s: %v", tn, err)
	}

	status := "In Transit"
	updated, err := user.UpdatePackage(ctx, tn, client.UpdatePackage{Status: &status})
	if err != nil {
		log.Fatalf("update %s: %v", tn, err)
	}
	if updated.Status != status || updated.Carrier != carrier {
		log.Fatalf("unexpected package after update: %+v", updated)
	}

	got, err := anon.GetPackage(ctx, tn)
	if err != nil {
		log.Fatalf("public lookup %s: %v", tn, err)
	}
	if got.OwnerUserID == nil || *got.OwnerUserID != sess.User.ID {
		log.Fatalf("package %s not owned by %s", tn, sess.User.ID)
	}

	mine, err := user.MyPackages(ctx)
	if err != nil {
		log.Fatalf("my packages: %v", err)
	}
	found := false
	for _, p := range mine {
		found = found || p.TrackingNumber == tn
	}
	if !found {
		log.Fatalf("%s missing from my-packages (%d items)", tn, len(mine))
	}

	if err := user.DeletePackage(ctx, tn); err != nil {
		log.Fatalf("delete %s: %v", tn, err)
	}
	if _, err := anon.GetPackage(ctx, tn); !client.IsNotFound(err) {
		log.Fatalf("expected 404 after delete, got %v", err)
	}

	fmt.Printf("✅ parceltrack smoke test passed: user=%s package=%s\n", sess.User.ID, tn)
}
