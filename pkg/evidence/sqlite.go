package evidence

import (
	goerrors "errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chronomap/chronomap/pkg/errors"
)

// recordRow is the persisted shape of a Record.
type recordRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	EntityID string `gorm:"column:entity_id;index;uniqueIndex:idx_entity_source"`
	SourceID string `gorm:"column:source_id;uniqueIndex:idx_entity_source"`

	Kind       string  `gorm:"column:kind"`
	Year       int     `gorm:"column:year;index"`
	YearFrom   int     `gorm:"column:year_from"`
	YearTo     int     `gorm:"column:year_to"`
	EndYear    *int    `gorm:"column:end_year"`
	Confidence float64 `gorm:"column:confidence;index"`
}

func (recordRow) TableName() string { return "evidence_records" }

// estimateRow is the persisted shape of an Estimate. Derived state,
// rewritten wholesale by UpdateAllEstimates.
type estimateRow struct {
	EntityID string `gorm:"column:entity_id;primaryKey"`

	StartYear  *int `gorm:"column:start_year"`
	StartLower int  `gorm:"column:start_lower"`
	StartUpper int  `gorm:"column:start_upper"`
	EndYear    *int `gorm:"column:end_year"`

	Confidence    float64 `gorm:"column:confidence"`
	Method        string  `gorm:"column:method"`
	Sources       string  `gorm:"column:sources"` // comma-joined
	PrimarySource string  `gorm:"column:primary_source"`
}

func (estimateRow) TableName() string { return "evidence_estimates" }

// sqliteStore backs the evidence store with a sqlite file.
type sqliteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) a sqlite-backed store at
// path and migrates its schema.
func NewSQLiteStore(path string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.NewEvidenceError("open", "", err)
	}
	if err := db.AutoMigrate(&recordRow{}, &estimateRow{}); err != nil {
		return nil, errors.NewEvidenceError("migrate", "", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Upsert(r Record) error {
	if err := r.Validate(); err != nil {
		return errors.NewEvidenceError("upsert", r.EntityID, err)
	}

	row := toRow(r)
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_id"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "year", "year_from", "year_to", "end_year", "confidence",
		}),
	}).Create(&row).Error
	if err != nil {
		return errors.NewEvidenceError("upsert", r.EntityID, err)
	}
	return nil
}

func (s *sqliteStore) ByEntity(entityID string) ([]Record, error) {
	var rows []recordRow
	err := s.db.Where("entity_id = ?", entityID).Order("source_id").Find(&rows).Error
	if err != nil {
		return nil, errors.NewEvidenceError("query", entityID, err)
	}
	return fromRows(rows), nil
}

func (s *sqliteStore) ByYearRange(from, to int) ([]Record, error) {
	var rows []recordRow
	err := s.db.
		Where("(kind <> ? AND year BETWEEN ? AND ?) OR (kind = ? AND year_from <= ? AND year_to >= ?)",
			string(KindRange), from, to, string(KindRange), to, from).
		Order("entity_id, source_id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.NewEvidenceError("query", "", err)
	}
	return fromRows(rows), nil
}

func (s *sqliteStore) ByConfidenceFloor(min float64) ([]Record, error) {
	var rows []recordRow
	err := s.db.Where("confidence >= ?", min).Order("entity_id, source_id").Find(&rows).Error
	if err != nil {
		return nil, errors.NewEvidenceError("query", "", err)
	}
	return fromRows(rows), nil
}

func (s *sqliteStore) Entities() ([]string, error) {
	var ids []string
	err := s.db.Model(&recordRow{}).Distinct("entity_id").Order("entity_id").Pluck("entity_id", &ids).Error
	if err != nil {
		return nil, errors.NewEvidenceError("query", "", err)
	}
	return ids, nil
}

func (s *sqliteStore) UpdateAllEstimates(priority PriorityFunc) (map[string]Estimate, error) {
	ids, err := s.Entities()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Estimate, len(ids))
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			var rows []recordRow
			if err := tx.Where("entity_id = ?", id).Order("source_id").Find(&rows).Error; err != nil {
				return err
			}
			est := BestEstimate(fromRows(rows), priority)
			est.EntityID = id
			out[id] = est

			row := toEstimateRow(est)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entity_id"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewEvidenceError("update-estimates", "", err)
	}
	return out, nil
}

func (s *sqliteStore) Estimate(entityID string) (Estimate, error) {
	var row estimateRow
	err := s.db.Where("entity_id = ?", entityID).First(&row).Error
	if goerrors.Is(err, gorm.ErrRecordNotFound) {
		return Estimate{}, errors.ErrNotFound
	}
	if err != nil {
		return Estimate{}, errors.NewEvidenceError("query", entityID, err)
	}
	return fromEstimateRow(row), nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(r Record) recordRow {
	return recordRow{
		EntityID:   r.EntityID,
		SourceID:   r.SourceID,
		Kind:       string(r.Kind),
		Year:       r.Year,
		YearFrom:   r.YearFrom,
		YearTo:     r.YearTo,
		EndYear:    r.EndYear,
		Confidence: r.Confidence,
	}
}

func fromRows(rows []recordRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			EntityID:   row.EntityID,
			SourceID:   row.SourceID,
			Kind:       Kind(row.Kind),
			Year:       row.Year,
			YearFrom:   row.YearFrom,
			YearTo:     row.YearTo,
			EndYear:    row.EndYear,
			Confidence: row.Confidence,
		})
	}
	return out
}

func toEstimateRow(e Estimate) estimateRow {
	return estimateRow{
		EntityID:      e.EntityID,
		StartYear:     e.StartYear,
		StartLower:    e.StartLower,
		StartUpper:    e.StartUpper,
		EndYear:       e.EndYear,
		Confidence:    e.Confidence,
		Method:        string(e.Method),
		Sources:       joinSources(e.Sources),
		PrimarySource: e.PrimarySource,
	}
}

func joinSources(sources []string) string {
	return strings.Join(sources, ",")
}

func splitSources(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

func fromEstimateRow(row estimateRow) Estimate {
	return Estimate{
		EntityID:      row.EntityID,
		StartYear:     row.StartYear,
		StartLower:    row.StartLower,
		StartUpper:    row.StartUpper,
		EndYear:       row.EndYear,
		Confidence:    row.Confidence,
		Method:        Method(row.Method),
		Sources:       splitSources(row.Sources),
		PrimarySource: row.PrimarySource,
	}
}
