package main

import (
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
)

var devUsernames = []string{"solicitante", "tecnico", "tecnico2"}

// seedDevelopmentData fills the in-memory store with one area, demo accounts
// sharing DEV_SEED_PASSWORD and the default request catalog.
func seedDevelopmentData(store *memory.Store, cfg config.AuthConfig) error {
	hash, err := auth.HashPassword(cfg.DevSeedPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}

	area := store.AddArea("Sistemas")
	store.AddUser(domain.User{
		Username:     "solicitante",
		Email:        "solicitante@example.com",
		PasswordHash: hash,
		Role:         domain.RoleRequester,
		Active:       true,
		AreaID:       &area.ID,
	})
	for _, name := range devUsernames[1:] {
		store.AddUser(domain.User{
			Username:     name,
			Email:        name + "@example.com",
			PasswordHash: hash,
			Role:         domain.RoleTechnician,
			Active:       true,
		})
	}

	catalog := []struct {
		name, slug  string
		suggestions []string
	}{
		{"Soporte de equipo", "soporte-equipo", []string{"El equipo no enciende", "El equipo está lento"}},
		{"Impresoras", "impresoras", []string{"No imprime", "Atasco de papel"}},
		{"Red e internet", "red-internet", []string{"Sin conexión a internet"}},
		{"Correo y cuentas", "correo-cuentas", []string{"Contraseña olvidada"}},
	}
	for i, entry := range catalog {
		rt := store.AddRequestType(domain.RequestType{Name: entry.name, Slug: entry.slug, Order: i + 1, Active: true})
		for j, text := range entry.suggestions {
			store.AddSuggestion(domain.ProblemSuggestion{RequestTypeID: rt.ID, Text: text, Order: j + 1, Active: true})
		}
	}
	return nil
}
