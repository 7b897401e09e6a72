package journal

import "gorm.io/gorm"

// nextVersion computes the version a CreateNew journal must take. It runs a
// raw query so the read always hits the store inside the write transaction;
// a cached result here could double-assign a version.
func nextVersion(tx *gorm.DB, typ string, id uint64) (uint64, error) {
	var current uint64
	err := tx.Raw(
		`select coalesce(max(version), 0) from journals where journable_type = ? and journable_id = ?`,
		typ, id,
	).Scan(&current).Error
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}
