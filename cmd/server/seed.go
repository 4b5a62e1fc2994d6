package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Quill/internal/api"
	"github.com/soaringjerry/Quill/internal/models"
	"github.com/soaringjerry/Quill/internal/services"
)

// SeedIfEmpty imports the snapshot at path into store when it has no users.
// Finals are written before drafts so a diary draft that follows a final
// survives the import. Soft-deleted responses are not imported. A diary final
// without a day_key is keyed by its submission day in loc.
func SeedIfEmpty(ctx context.Context, store api.Store, path string, loc *time.Location) error {
	if path == "" {
		return nil
	}
	n, err := store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	snap, err := api.LoadSnapshot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("seed: %s not found, skipping", path)
			return nil
		}
		return err
	}

	log.Printf("seed: empty store detected, importing %s", path)
	for _, su := range snap.Users {
		u := su.User
		u.Email = strings.ToLower(strings.TrimSpace(u.Email))
		u.PassHash = su.PassHash
		if len(u.PassHash) == 0 && su.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", u.Email, err)
			}
			u.PassHash = hash
		}
		if err := store.AddUser(ctx, &u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	for _, q := range snap.Questions {
		if err := store.InsertQuestion(ctx, q); err != nil {
			return fmt.Errorf("seed question %s: %w", q.ID, err)
		}
	}
	modes := make(map[string]models.FormMode, len(snap.Forms))
	for _, f := range snap.Forms {
		if err := store.InsertForm(ctx, f); err != nil {
			return fmt.Errorf("seed form %s: %w", f.ID, err)
		}
		modes[f.ID] = f.Mode
	}

	var finals, drafts int
	for _, sr := range snap.Responses {
		if sr.Deleted || sr.IsDraft {
			continue
		}
		r := sr.Response
		r.DayKey = sr.DayKey
		if r.DayKey == "" && modes[r.FormID] == models.ModeDiary {
			r.DayKey = services.DayKey(r.SubmittedAt, loc)
		}
		if err := store.FinalizeResponse(ctx, &r); err != nil {
			return fmt.Errorf("seed response %s: %w", r.ID, err)
		}
		finals++
	}
	for _, sr := range snap.Responses {
		if sr.Deleted || !sr.IsDraft {
			continue
		}
		r := sr.Response
		if _, err := store.UpsertDraft(ctx, &r); err != nil {
			return fmt.Errorf("seed draft %s: %w", r.ID, err)
		}
		drafts++
	}
	for _, e := range snap.Audit {
		if err := store.AddAudit(ctx, e); err != nil {
			return fmt.Errorf("seed audit: %w", err)
		}
	}
	log.Printf("seed: imported %d users, %d questions, %d forms, %d responses, %d drafts",
		len(snap.Users), len(snap.Questions), len(snap.Forms), finals, drafts)
	return nil
}
