package site

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/sqlwhere"
)

// ErrActiveInvariant means a failed publish left the project without an
// active study area and the archived rows could not be restored.
var ErrActiveInvariant = errors.New("zero active rows, manual correction required")

// SupersedeResult describes a publish.
type SupersedeResult struct {
	// ObjectID is the id of the appended row.
	ObjectID int64
	// Archived lists the previously active rows given an EndDate.
	Archived []int64
	// ActiveAfter is the number of active rows counted after the append,
	// or -1 when the count failed.
	ActiveAfter int
	Where       string
}

// Supersede archives every active row of the project and appends area as
// the new active row. If the append fails the archived rows are restored.
func (s *Service) Supersede(ctx context.Context, area StudyArea) (*SupersedeResult, error) {
	kind, oidField := s.projectField(ctx)
	res := &SupersedeResult{Where: sqlwhere.ProjectFilter(area.ProjectNumber, kind), ActiveAfter: -1}
	layer := s.Endpoints.StudyAreas

	ids, err := s.Client.QueryIDs(ctx, http.MethodGet, layer, arcgis.Query{Where: res.Where, Token: s.Client.Token})
	if err != nil {
		return nil, fmt.Errorf("failed to find active study areas: %w", err)
	}
	oidField = ids.OIDField(oidField)

	if len(ids.ObjectIDs) > 0 {
		endDate := s.now().UnixMilli()
		if _, err := s.Client.UpdateFeatures(ctx, layer, endDateEdits(oidField, ids.ObjectIDs, endDate)); err != nil {
			return nil, fmt.Errorf("failed to archive active study areas %v: %w", ids.ObjectIDs, err)
		}
		res.Archived = ids.ObjectIDs
		s.logger().Info("archived previous study areas", "project", area.ProjectNumber, "count", len(ids.ObjectIDs))
	}

	area.EndDate = nil
	feature, err := area.Feature()
	if err == nil {
		var results []arcgis.EditResult
		results, err = s.Client.AddFeatures(ctx, layer, []arcgis.Feature{feature})
		if err == nil && len(results) > 0 {
			res.ObjectID = results[0].ObjectID
		}
	}
	if err != nil {
		return nil, s.rollback(ctx, oidField, res.Archived, err)
	}

	count, err := s.Client.QueryCount(ctx, layer, arcgis.Query{Where: res.Where, Token: s.Client.Token})
	if err != nil {
		s.logger().Warn("could not verify active study areas", "project", area.ProjectNumber, "error", err)
		return res, nil
	}
	res.ActiveAfter = count
	if count != 1 {
		s.logger().Warn("project does not have exactly one active study area", "project", area.ProjectNumber, "active", count)
	}
	return res, nil
}

// rollback clears EndDate on rows archived before a failed append.
func (s *Service) rollback(ctx context.Context, oidField string, archived []int64, appendErr error) error {
	if len(archived) == 0 {
		return fmt.Errorf("failed to append study area: %w", appendErr)
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.Client.UpdateFeatures(ctx, s.Endpoints.StudyAreas, endDateEdits(oidField, archived, nil)); err != nil {
		s.logger().Error("could not restore archived study areas", "ids", archived, "error", err)
		return fmt.Errorf("%w: rows %v stay archived: append: %v; restore: %v", ErrActiveInvariant, archived, appendErr, err)
	}
	s.logger().Warn("append failed, archived study areas restored", "ids", archived)
	return fmt.Errorf("failed to append study area, previous rows restored: %w", appendErr)
}

func endDateEdits(oidField string, ids []int64, endDate interface{}) []arcgis.Feature {
	edits := make([]arcgis.Feature, len(ids))
	for i, id := range ids {
		edits[i] = arcgis.Feature{Attributes: map[string]interface{}{
			oidField:     id,
			FieldEndDate: endDate,
		}}
	}
	return edits
}
