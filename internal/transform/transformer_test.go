package transform

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdresch/CogniSync-sub001/internal/faults"
	"github.com/mdresch/CogniSync-sub001/internal/models"
)

func testConfig() *models.SyncConfig {
	return &models.SyncConfig{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		Active:   true,
		EntityMappings: map[string]string{
			"page":   "Document",
			"issue":  "Task",
			"space":  "Collection",
			"person": "Person",
		},
		RelationshipMappings: map[string]string{
			"relates_to": "RELATED_TO",
		},
	}
}

func pageCreatedPayload() []byte {
	return []byte(`{
		"eventId": "evt-100",
		"eventType": "page_created",
		"spaceKey": "ENG",
		"entity": {"id": "page-1", "type": "page", "title": "Design Doc", "url": "https://wiki/page-1"},
		"actor": {"id": "user-9", "name": "Dana", "email": "dana@example.com"}
	}`)
}

func TestTransformPageCreated(t *testing.T) {
	eventID := uuid.New()
	changes, err := Transform(eventID, pageCreatedPayload(), testConfig())
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, models.CreateEntity, changes[0].Kind)
	assert.Equal(t, models.ChangeID(eventID, 0), changes[0].ChangeID)

	var entity map[string]string
	require.NoError(t, json.Unmarshal(changes[0].Payload, &entity))
	assert.Equal(t, "page-1", entity["entity_id"])
	assert.Equal(t, "Document", entity["entity_type"])
	assert.Equal(t, "ENG", entity["space_key"])

	assert.Equal(t, models.LinkEntities, changes[1].Kind)
	assert.Equal(t, models.ChangeID(eventID, 1), changes[1].ChangeID)

	var link map[string]string
	require.NoError(t, json.Unmarshal(changes[1].Payload, &link))
	assert.Equal(t, "AUTHORED_BY", link["relationship"])
	assert.Equal(t, "page-1", link["source_id"])
	assert.Equal(t, "user-9", link["target_id"])
	assert.Equal(t, "Person", link["target_type"])
}

func TestTransformDeterministic(t *testing.T) {
	eventID := uuid.New()
	cfg := testConfig()

	first, err := Transform(eventID, pageCreatedPayload(), cfg)
	require.NoError(t, err)
	second, err := Transform(eventID, pageCreatedPayload(), cfg)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Kind, second[i].Kind)
		assert.Equal(t, first[i].ChangeID, second[i].ChangeID)
		assert.True(t, bytes.Equal(first[i].Payload, second[i].Payload),
			"payload %d differs between runs", i)
	}
}

func TestTransformContainerAndLinks(t *testing.T) {
	payload := []byte(`{
		"eventId": "evt-101",
		"eventType": "issue_updated",
		"spaceKey": "ENG",
		"entity": {"id": "issue-7", "type": "issue", "title": "Fix flakiness"},
		"container": {"id": "space-1", "type": "space"},
		"links": [{"type": "relates_to", "targetId": "issue-8", "targetType": "issue"}]
	}`)

	changes, err := Transform(uuid.New(), payload, testConfig())
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, models.UpdateEntity, changes[0].Kind)

	var contains map[string]string
	require.NoError(t, json.Unmarshal(changes[1].Payload, &contains))
	assert.Equal(t, "CONTAINS", contains["relationship"])
	assert.Equal(t, "space-1", contains["source_id"])
	assert.Equal(t, "Collection", contains["source_type"])

	var related map[string]string
	require.NoError(t, json.Unmarshal(changes[2].Payload, &related))
	assert.Equal(t, "RELATED_TO", related["relationship"])
	assert.Equal(t, "issue-8", related["target_id"])
	assert.Equal(t, "Task", related["target_type"])
}

func TestTransformDeleteCarriesNoLinks(t *testing.T) {
	payload := []byte(`{
		"eventId": "evt-102",
		"eventType": "page_deleted",
		"spaceKey": "ENG",
		"entity": {"id": "page-1", "type": "page"},
		"actor": {"id": "user-9"},
		"container": {"id": "space-1", "type": "space"}
	}`)

	changes, err := Transform(uuid.New(), payload, testConfig())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.DeleteEntity, changes[0].Kind)
}

func TestTransformFilteredSpaceIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.SpaceFilters = []string{"DOCS"}

	changes, err := Transform(uuid.New(), pageCreatedPayload(), cfg)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestTransformValidationErrors(t *testing.T) {
	cfg := testConfig()

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{"eventType": `},
		{"missing event type", `{"entity": {"id": "p1", "type": "page"}}`},
		{"unknown event type", `{"eventType": "page_archived", "entity": {"id": "p1", "type": "page"}}`},
		{"missing entity", `{"eventType": "page_created"}`},
		{"unmapped entity type", `{"eventType": "page_created", "entity": {"id": "b1", "type": "blogpost"}}`},
		{"unmapped link type", `{"eventType": "page_updated", "entity": {"id": "p1", "type": "page"},
			"links": [{"type": "mentions", "targetId": "p2", "targetType": "page"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Transform(uuid.New(), []byte(tc.payload), cfg)
			require.Error(t, err)
			assert.True(t, faults.IsValidation(err), "expected ValidationError, got %v", err)
		})
	}
}
