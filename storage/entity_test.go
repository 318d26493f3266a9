package storage

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

func TestTaskEntityCarriesImagesAsJSON(t *testing.T) {
	task := domain.Task{
		Title:    "Roast",
		Status:   domain.Sunday,
		MealType: domain.Dinner,
		Calories: 900,
		MealDate: "2024-03-24",
		Images: []domain.Image{
			{URL: "https://acct.blob.core.windows.net/meals/images/1_roast.jpg", Name: "roast.jpg", Size: 1024},
		},
		View:      "family",
		Order:     3,
		CreatedAt: 1711200000000,
	}

	ent, err := toEntity("user-1", "task-1", task)
	if err != nil {
		t.Fatalf("to entity: %v", err)
	}
	if ent.PartitionKey != "user-1" || ent.RowKey != "task-1" {
		t.Fatalf("unexpected keys: %#v", ent.Entity)
	}
	if ent.CreatedAtType != "Edm.Int64" {
		t.Fatalf("CreatedAt must be typed as Edm.Int64, got %q", ent.CreatedAtType)
	}
	if !strings.Contains(ent.Images, "roast.jpg") {
		t.Fatalf("images not embedded: %q", ent.Images)
	}

	// The int64 timestamp must survive the table wire encoding as a string.
	payload, err := json.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal entity: %v", err)
	}
	if !strings.Contains(string(payload), `"CreatedAt":"1711200000000"`) {
		t.Fatalf("expected string-encoded CreatedAt, got %s", payload)
	}

	back, err := fromEntity(ent)
	if err != nil {
		t.Fatalf("from entity: %v", err)
	}
	back.ID = ""
	if back.Title != task.Title || back.Status != task.Status || back.CreatedAt != task.CreatedAt {
		t.Fatalf("entity round trip lost fields: %#v", back)
	}
	if len(back.Images) != 1 || back.Images[0].Name != "roast.jpg" {
		t.Fatalf("images round trip failed: %#v", back.Images)
	}
}

func TestFromEntityRejectsCorruptImages(t *testing.T) {
	ent := taskEntity{Title: "x", Status: domain.Monday, Images: "{broken"}
	if _, err := fromEntity(ent); err == nil {
		t.Fatalf("expected corrupt images payload to error")
	}
}
