package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/fatoora-app/intake_backend/config"
)

// check if id exists, using org_id in WHERE, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, orgId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, orgId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check if ALL ids exist, using org_id in WHERE, return RecordNotFound Error
func ValidateResourcesId[M any, ID comparable](ctx context.Context, orgId string, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhere[M](ctx, orgId, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}

	return nil
}

// ValidateUnique returns a ConflictError when another record of T already holds
// value in column. exceptId excludes the record being edited.
func ValidateUnique[T any](ctx context.Context, orgId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, orgId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, orgId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		strValue, _ := value.(string)
		return ConflictError{Field: column, Value: strValue}
	}
	return nil
}

// count records, using WHERE org_id = ? AND $condition
// org_id can be blank for maintenance commands
func ResourceCountWhere[T any](ctx context.Context, orgId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	if db == nil {
		return 0, errors.New("database not initialized")
	}
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if orgId != "" {
		dbCtx.Where("org_id = ?", orgId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
