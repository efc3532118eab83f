package storage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/emitra/internal/model"
)

type migrationStep struct {
	name  string
	apply func(*gorm.DB) error
}

// Steps run in order on every start and must stay idempotent.
var migrationSteps = []migrationStep{
	{name: "drop_principal_grants", apply: dropPrincipalGrants},
	{name: "create_tables", apply: createTables},
	{name: "backfill_inquiry_kinds", apply: backfillInquiryKinds},
}

// AutoMigrate brings the schema and legacy rows up to date.
func AutoMigrate(database *gorm.DB) error {
	for _, step := range migrationSteps {
		if stepErr := step.apply(database); stepErr != nil {
			return fmt.Errorf("storage: migration %s: %w", step.name, stepErr)
		}
	}
	return nil
}

// Grants keyed by principal let any session naming that principal act as
// admin; they are dropped so every session elevates again.
func dropPrincipalGrants(database *gorm.DB) error {
	migrator := database.Migrator()
	if !migrator.HasTable(&model.AdminGrant{}) || migrator.HasColumn(&model.AdminGrant{}, "SessionID") {
		return nil
	}
	return migrator.DropTable(&model.AdminGrant{})
}

func createTables(database *gorm.DB) error {
	return database.AutoMigrate(&model.Inquiry{}, &model.AdminGrant{})
}

// Rows written before the kind column existed are general contact messages.
func backfillInquiryKinds(database *gorm.DB) error {
	return database.Model(&model.Inquiry{}).
		Where("kind IS NULL OR TRIM(kind) = ''").
		Update("kind", model.InquiryKindContact).Error
}

