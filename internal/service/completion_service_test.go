package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupCompletionTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:completion-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.Routine{},
		&db.RoutineVersion{},
		&db.CompletedRoutine{},
		&db.EditHistory{},
		&db.PaperInventory{},
		&db.SystemSetting{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return gdb, func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }

// createTestRoutine 建一个标准测试清单并返回其叶子条目
func createTestRoutine(t *testing.T, gdb *gorm.DB) (*db.Routine, []db.RoutineItem) {
	t.Helper()

	routine, err := NewRoutineService(gdb).Create(RoutineInput{Name: "晨间例行", Items: sampleItems()})
	if err != nil {
		t.Fatalf("failed to create routine: %v", err)
	}
	items, err := routine.ItemList()
	if err != nil {
		t.Fatalf("failed to read items: %v", err)
	}
	return routine, db.FlattenItems(items)
}

// fullValues 为标准测试清单的五个叶子生成合法填写值
func fullValues(leaves []db.RoutineItem) []db.ItemValue {
	values := make([]db.ItemValue, 0, len(leaves))
	for _, leaf := range leaves {
		value := db.ItemValue{ItemID: leaf.ID}
		switch leaf.Type {
		case db.ItemTypeCheckbox:
			value.Checked = boolPtr(true)
		case db.ItemTypeNumber:
			value.Number = floatPtr(500)
		case db.ItemTypeScale:
			value.Rating = intPtr(4)
		case db.ItemTypeText:
			value.Text = strPtr("完成")
		}
		values = append(values, value)
	}
	return values
}

func TestCompletionServiceCompleteDigital(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())

	date := time.Date(2026, 3, 10, 15, 30, 0, 0, time.Local)
	completion, err := svc.Complete(routine.ID, CompletionInput{
		Date:   date,
		Source: db.SourceDigital,
		Values: fullValues(leaves),
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if completion.Version != 1 {
		t.Fatalf("expected completion anchored to version 1, got %d", completion.Version)
	}
	if completion.Source != db.SourceDigital {
		t.Fatalf("unexpected source: %s", completion.Source)
	}
	if completion.PhotoURL != "" || completion.PhotoExpiresAt != nil {
		t.Fatal("digital completion must not carry photo fields")
	}

	// 日期归一化为 UTC 零点
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !completion.CompletedDate.Equal(want) {
		t.Fatalf("expected completed date %v, got %v", want, completion.CompletedDate)
	}

	fetched, err := svc.Get(routine.ID, date)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	values, err := fetched.ValueList()
	if err != nil {
		t.Fatalf("ValueList returned error: %v", err)
	}
	if len(values) != len(leaves) {
		t.Fatalf("expected %d values, got %d", len(leaves), len(values))
	}
}

func TestCompletionServiceRejectsSecondCompletionSameDay(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())

	date := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := svc.Complete(routine.ID, CompletionInput{Date: date, Source: db.SourceDigital, Values: fullValues(leaves)}); err != nil {
		t.Fatalf("first completion returned error: %v", err)
	}

	// 同一天第二次提交必须拒绝，哪怕时刻不同
	_, err := svc.Complete(routine.ID, CompletionInput{
		Date:   date.Add(10 * time.Hour),
		Source: db.SourceDigital,
		Values: fullValues(leaves),
	})
	if !errors.Is(err, ErrCompletionExists) {
		t.Fatalf("expected ErrCompletionExists, got %v", err)
	}
}

func TestCompletionServiceSourceRules(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())
	date := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		input CompletionInput
	}{
		{"数字打卡不得指定版本", CompletionInput{Date: date, Source: db.SourceDigital, Version: 1, Values: fullValues(leaves)}},
		{"数字打卡不得带照片", CompletionInput{Date: date, Source: db.SourceDigital, PhotoURL: "https://example.com/p.jpg", Values: fullValues(leaves)}},
		{"纸质打卡必须带版本", CompletionInput{Date: date, Source: db.SourceAnalog, PhotoURL: "https://example.com/p.jpg", Values: fullValues(leaves)}},
		{"纸质打卡必须带照片", CompletionInput{Date: date, Source: db.SourceAnalog, Version: 1, Values: fullValues(leaves)}},
		{"未知来源", CompletionInput{Date: date, Source: "paper", Values: fullValues(leaves)}},
	}

	for _, tc := range cases {
		if _, err := svc.Complete(routine.ID, tc.input); !errors.Is(err, ErrCompletionInvalid) {
			t.Fatalf("%s: expected ErrCompletionInvalid, got %v", tc.name, err)
		}
	}

	if _, err := svc.Complete(999, CompletionInput{Date: date, Source: db.SourceDigital, Values: nil}); !errors.Is(err, ErrRoutineNotFound) {
		t.Fatalf("expected ErrRoutineNotFound for missing routine, got %v", err)
	}
}

func TestCompletionServiceAnalogUpdatesInventoryAndExpiry(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())

	completion, err := svc.Complete(routine.ID, CompletionInput{
		Date:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Source:   db.SourceAnalog,
		Version:  1,
		Values:   fullValues(leaves),
		PhotoURL: "/media/photos/1/card.jpg",
		PhotoKey: "photos/1/card.jpg",
	})
	if err != nil {
		t.Fatalf("analog completion returned error: %v", err)
	}

	if completion.PhotoExpiresAt == nil {
		t.Fatal("expected photo expiry to be set")
	}
	if got := completion.PhotoExpiresAt.Sub(completion.CompletedAt); got != photoRetention {
		t.Fatalf("expected expiry %v after completion, got %v", photoRetention, got)
	}

	// 同事务累加已上传卡片数
	var inventory db.PaperInventory
	if err := gdb.Where("routine_id = ?", routine.ID).First(&inventory).Error; err != nil {
		t.Fatalf("expected inventory row: %v", err)
	}
	if inventory.UploadedCount != 1 {
		t.Fatalf("expected uploaded count 1, got %d", inventory.UploadedCount)
	}
}

func TestCompletionServiceValidatesAgainstAnchoredVersion(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, oldLeaves := createTestRoutine(t, gdb)
	routineSvc := NewRoutineService(gdb)

	newItems := []db.RoutineItem{{Name: "冥想", Type: db.ItemTypeCheckbox}}
	updated, err := routineSvc.Update(routine.ID, RoutineUpdateInput{Items: &newItems})
	if err != nil {
		t.Fatalf("failed to update items: %v", err)
	}
	liveItems, err := updated.ItemList()
	if err != nil {
		t.Fatalf("failed to read live items: %v", err)
	}
	liveLeaves := db.FlattenItems(liveItems)

	svc := NewCompletionService(gdb, blob.NewMemory())

	// 打印于 v1 的卡片在清单改版后仍按 v1 的条目校验
	completion, err := svc.Complete(routine.ID, CompletionInput{
		Date:     time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Source:   db.SourceAnalog,
		Version:  1,
		Values:   fullValues(oldLeaves),
		PhotoURL: "/media/photos/1/v1.jpg",
	})
	if err != nil {
		t.Fatalf("analog completion against v1 returned error: %v", err)
	}
	if completion.Version != 1 {
		t.Fatalf("expected anchored version 1, got %d", completion.Version)
	}

	// v1 卡片里混入 v2 条目视为非法
	_, err = svc.Complete(routine.ID, CompletionInput{
		Date:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Source:   db.SourceAnalog,
		Version:  1,
		Values:   []db.ItemValue{{ItemID: liveLeaves[0].ID, Checked: boolPtr(true)}},
		PhotoURL: "/media/photos/1/v1b.jpg",
	})
	if !errors.Is(err, ErrValuesInvalid) {
		t.Fatalf("expected ErrValuesInvalid for item outside v1, got %v", err)
	}

	// 数字打卡锚定当前版本
	digital, err := svc.Complete(routine.ID, CompletionInput{
		Date:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Source: db.SourceDigital,
		Values: []db.ItemValue{{ItemID: liveLeaves[0].ID, Checked: boolPtr(true)}},
	})
	if err != nil {
		t.Fatalf("digital completion returned error: %v", err)
	}
	if digital.Version != 2 {
		t.Fatalf("expected digital completion at version 2, got %d", digital.Version)
	}
}

func TestCompletionServiceValueValidation(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)

	var checkbox, number, scale db.RoutineItem
	for _, leaf := range leaves {
		switch leaf.Type {
		case db.ItemTypeCheckbox:
			if checkbox.ID == "" {
				checkbox = leaf
			}
		case db.ItemTypeNumber:
			number = leaf
		case db.ItemTypeScale:
			scale = leaf
		}
	}

	cases := []struct {
		name   string
		values []db.ItemValue
	}{
		{"未知条目", []db.ItemValue{{ItemID: "ghost", Checked: boolPtr(true)}}},
		{"复选框填数字", []db.ItemValue{{ItemID: checkbox.ID, Number: floatPtr(3)}}},
		{"数字条目填勾选", []db.ItemValue{{ItemID: number.ID, Checked: boolPtr(true)}}},
		{"评分越下界", []db.ItemValue{{ItemID: scale.ID, Rating: intPtr(0)}}},
		{"评分越上界", []db.ItemValue{{ItemID: scale.ID, Rating: intPtr(6)}}},
		{"重复填写同一条目", []db.ItemValue{
			{ItemID: checkbox.ID, Checked: boolPtr(true)},
			{ItemID: checkbox.ID, Checked: boolPtr(false)},
		}},
	}

	for _, tc := range cases {
		_, err := svc.Complete(routine.ID, CompletionInput{Date: date, Source: db.SourceDigital, Values: tc.values})
		if !errors.Is(err, ErrValuesInvalid) {
			t.Fatalf("%s: expected ErrValuesInvalid, got %v", tc.name, err)
		}
	}

	// 备注仅允许出现在开启备注的 scale 条目上
	plainScale, err := NewRoutineService(gdb).Create(RoutineInput{
		Name:  "无备注清单",
		Items: []db.RoutineItem{{Name: "心情", Type: db.ItemTypeScale}},
	})
	if err != nil {
		t.Fatalf("failed to create routine: %v", err)
	}
	plainItems, _ := plainScale.ItemList()
	_, err = svc.Complete(plainScale.ID, CompletionInput{
		Date:   date,
		Source: db.SourceDigital,
		Values: []db.ItemValue{{ItemID: plainItems[0].ID, Rating: intPtr(3), Notes: "不该有"}},
	})
	if !errors.Is(err, ErrValuesInvalid) {
		t.Fatalf("expected ErrValuesInvalid for notes on plain scale, got %v", err)
	}

	// 部分填写是合法的：只填一个条目
	partial, err := svc.Complete(routine.ID, CompletionInput{
		Date:   date,
		Source: db.SourceDigital,
		Values: []db.ItemValue{{ItemID: checkbox.ID, Checked: boolPtr(true)}},
	})
	if err != nil {
		t.Fatalf("partial completion returned error: %v", err)
	}
	if partial.ID == 0 {
		t.Fatal("expected partial completion to persist")
	}
}

func TestCompletionServiceAmendAppendsHistory(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())
	date := time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)

	original := fullValues(leaves)
	if _, err := svc.Complete(routine.ID, CompletionInput{Date: date, Source: db.SourceDigital, Values: original}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	first := fullValues(leaves)
	first[len(first)-1].Rating = intPtr(2)
	if _, err := svc.Amend(routine.ID, date, first); err != nil {
		t.Fatalf("first amend returned error: %v", err)
	}

	second := fullValues(leaves)
	second[len(second)-1].Rating = intPtr(5)
	amended, err := svc.Amend(routine.ID, date, second)
	if err != nil {
		t.Fatalf("second amend returned error: %v", err)
	}

	values, err := amended.ValueList()
	if err != nil {
		t.Fatalf("ValueList returned error: %v", err)
	}
	if got := values[len(values)-1].Rating; got == nil || *got != 5 {
		t.Fatalf("expected final rating 5, got %v", got)
	}

	history, err := svc.ListEditHistory(routine.ID, date)
	if err != nil {
		t.Fatalf("ListEditHistory returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	// 第一条历史保存的是最初的值
	previous, err := history[0].ValueList()
	if err != nil {
		t.Fatalf("history ValueList returned error: %v", err)
	}
	if got := previous[len(previous)-1].Rating; got == nil || *got != 4 {
		t.Fatalf("expected first history rating 4, got %v", got)
	}

	// 修订失败不得留下历史
	bad := []db.ItemValue{{ItemID: "ghost", Checked: boolPtr(true)}}
	if _, err := svc.Amend(routine.ID, date, bad); !errors.Is(err, ErrValuesInvalid) {
		t.Fatalf("expected ErrValuesInvalid, got %v", err)
	}
	history, err = svc.ListEditHistory(routine.ID, date)
	if err != nil {
		t.Fatalf("ListEditHistory returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("failed amend must not append history, got %d entries", len(history))
	}

	if _, err := svc.Amend(routine.ID, date.AddDate(0, 0, 1), second); !errors.Is(err, ErrCompletionNotFound) {
		t.Fatalf("expected ErrCompletionNotFound, got %v", err)
	}
}

func TestCompletionServiceListBetween(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	svc := NewCompletionService(gdb, blob.NewMemory())

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, day := range []int{0, 2, 4, 10} {
		if _, err := svc.Complete(routine.ID, CompletionInput{
			Date:   base.AddDate(0, 0, day),
			Source: db.SourceDigital,
			Values: fullValues(leaves),
		}); err != nil {
			t.Fatalf("failed to complete day %d: %v", day, err)
		}
	}

	completions, err := svc.ListBetween(routine.ID, base, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("ListBetween returned error: %v", err)
	}
	if len(completions) != 3 {
		t.Fatalf("expected 3 completions in range, got %d", len(completions))
	}
	for i := 1; i < len(completions); i++ {
		if completions[i].CompletedDate.Before(completions[i-1].CompletedDate) {
			t.Fatal("expected ascending order by date")
		}
	}

	recent, err := svc.ListRecent(routine.ID, 2)
	if err != nil {
		t.Fatalf("ListRecent returned error: %v", err)
	}
	if len(recent) != 2 || !recent[0].CompletedDate.After(recent[1].CompletedDate) {
		t.Fatalf("expected 2 most recent completions newest first, got %+v", recent)
	}
}

func TestCompletionServicePurgeExpiredPhotos(t *testing.T) {
	gdb, cleanup := setupCompletionTestDB(t)
	t.Cleanup(cleanup)

	routine, leaves := createTestRoutine(t, gdb)
	store := blob.NewMemory()
	svc := NewCompletionService(gdb, store)
	ctx := context.Background()

	if _, err := store.Put(ctx, "photos/1/expired.jpg", strings.NewReader("jpeg-bytes"), blob.PutOptions{ContentType: "image/jpeg"}); err != nil {
		t.Fatalf("failed to seed blob: %v", err)
	}

	expired, err := svc.Complete(routine.ID, CompletionInput{
		Date:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Source:   db.SourceAnalog,
		Version:  1,
		Values:   fullValues(leaves),
		PhotoURL: "/media/photos/1/expired.jpg",
		PhotoKey: "photos/1/expired.jpg",
	})
	if err != nil {
		t.Fatalf("failed to create analog completion: %v", err)
	}

	fresh, err := svc.Complete(routine.ID, CompletionInput{
		Date:     time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		Source:   db.SourceAnalog,
		Version:  1,
		Values:   fullValues(leaves),
		PhotoURL: "/media/photos/1/fresh.jpg",
		PhotoKey: "photos/1/fresh.jpg",
	})
	if err != nil {
		t.Fatalf("failed to create second analog completion: %v", err)
	}

	// 把第一条的保留期改到过去
	past := time.Now().Add(-time.Hour)
	if err := gdb.Model(&db.CompletedRoutine{}).Where("id = ?", expired.ID).
		Update("photo_expires_at", past).Error; err != nil {
		t.Fatalf("failed to backdate expiry: %v", err)
	}

	purged, err := svc.PurgeExpiredPhotos(ctx, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpiredPhotos returned error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged photo, got %d", purged)
	}

	// 对象已删除，照片字段已清空，打卡本身保留
	if _, _, err := store.Get(ctx, "photos/1/expired.jpg"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected blob to be deleted, got %v", err)
	}

	var reloaded db.CompletedRoutine
	if err := gdb.First(&reloaded, expired.ID).Error; err != nil {
		t.Fatalf("completion row must survive purge: %v", err)
	}
	if reloaded.PhotoURL != "" || reloaded.PhotoKey != "" || reloaded.PhotoExpiresAt != nil {
		t.Fatalf("expected photo fields cleared, got %+v", reloaded)
	}

	var untouched db.CompletedRoutine
	if err := gdb.First(&untouched, fresh.ID).Error; err != nil {
		t.Fatalf("failed to reload fresh completion: %v", err)
	}
	if untouched.PhotoURL == "" || untouched.PhotoExpiresAt == nil {
		t.Fatal("unexpired photo must be left alone")
	}
}
