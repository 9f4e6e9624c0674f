package main

import (
	"fmt"
	"log"
	"time"

	"github.com/routinecard/internal/blob"
	"github.com/routinecard/internal/config"
	"github.com/routinecard/internal/db"
	"github.com/routinecard/internal/service"
	"gorm.io/gorm"
)

// 测试数据生成器
func main() {
	// 初始化数据库
	cfg := config.Load()
	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	routines := createRoutines(gdb)
	createCompletions(gdb, routines)
	createInventory(gdb, routines)

	fmt.Println("测试数据生成完成！")
	fmt.Println("清单: 晨间例行、健身计划、晚间复盘")
	fmt.Println("打卡: 最近三周的数字与纸质打卡记录")
}

// 创建测试清单
func createRoutines(gdb *gorm.DB) []*db.Routine {
	var count int64
	gdb.Model(&db.Routine{}).Count(&count)
	if count > 0 {
		fmt.Println("清单已存在，跳过创建")
		return nil
	}

	routineService := service.NewRoutineService(gdb)

	inputs := []service.RoutineInput{
		{
			Name:        "晨间例行",
			Description: "早起后的固定动作，**按顺序**走完再出门。",
			Items: []db.RoutineItem{
				{Name: "起床拉伸", Type: db.ItemTypeCheckbox},
				{Name: "喝水", Type: db.ItemTypeNumber, Unit: "毫升"},
				{Name: "护肤", Type: db.ItemTypeGroup, Children: []db.RoutineItem{
					{Name: "洗面", Type: db.ItemTypeCheckbox},
					{Name: "防晒", Type: db.ItemTypeCheckbox},
				}},
				{Name: "精神状态", Type: db.ItemTypeScale, HasNotes: true},
			},
		},
		{
			Name:        "健身计划",
			Description: "隔天一练，重量以当天状态为准。",
			Items: []db.RoutineItem{
				{Name: "热身十分钟", Type: db.ItemTypeCheckbox},
				{Name: "深蹲", Type: db.ItemTypeNumber, Unit: "次"},
				{Name: "卧推", Type: db.ItemTypeNumber, Unit: "公斤"},
				{Name: "训练强度", Type: db.ItemTypeScale},
			},
		},
		{
			Name:        "晚间复盘",
			Description: "",
			Items: []db.RoutineItem{
				{Name: "整理桌面", Type: db.ItemTypeCheckbox},
				{Name: "今日亮点", Type: db.ItemTypeText},
				{Name: "睡前心情", Type: db.ItemTypeScale, HasNotes: true},
			},
		},
	}

	created := make([]*db.Routine, 0, len(inputs))
	for _, input := range inputs {
		routine, err := routineService.Create(input)
		if err != nil {
			log.Printf("创建清单失败: %v", err)
			continue
		}
		created = append(created, routine)
	}

	fmt.Println("✅ 测试清单创建完成")
	return created
}

// 创建打卡记录：晨间例行连续打卡带缺口，健身计划隔天打卡并含一次纸质补录
func createCompletions(gdb *gorm.DB, routines []*db.Routine) {
	if len(routines) == 0 {
		fmt.Println("无新建清单，跳过打卡数据")
		return
	}

	completionService := service.NewCompletionService(gdb, blob.NewMemory())
	today := time.Now().UTC()

	for idx, routine := range routines {
		items, err := routine.ItemList()
		if err != nil {
			log.Printf("读取清单条目失败: %v", err)
			continue
		}
		leaves := db.FlattenItems(items)

		for day := 20; day >= 0; day-- {
			date := today.AddDate(0, 0, -day)

			// 按清单错开打卡节奏，制造缺口让统计数据更真实
			switch idx {
			case 0:
				if day == 6 || day == 13 {
					continue
				}
			case 1:
				if day%2 == 1 {
					continue
				}
			default:
				if day > 4 {
					continue
				}
			}

			input := service.CompletionInput{
				Date:   date,
				Source: db.SourceDigital,
				Values: seedValues(leaves, day),
			}

			// 健身计划昨天的打卡改为纸质补录，顺带演示照片字段
			if idx == 1 && day == 1 {
				input.Source = db.SourceAnalog
				input.Version = routine.Version
				input.PhotoURL = "https://images.unsplash.com/photo-1517963879433-6ad2b056d712?auto=format&w=1200&q=80"
			}

			if _, err := completionService.Complete(routine.ID, input); err != nil {
				log.Printf("创建打卡记录失败: %v", err)
			}
		}
	}

	fmt.Println("✅ 打卡记录创建完成")
}

// 创建库存数据：给健身计划补一批已打印卡片
func createInventory(gdb *gorm.DB, routines []*db.Routine) {
	if len(routines) < 2 {
		fmt.Println("无新建清单，跳过库存数据")
		return
	}

	inventoryService := service.NewInventoryService(gdb)
	if _, err := inventoryService.RecordPrint(routines[1].ID, 10, time.Now()); err != nil {
		log.Printf("记录打印失败: %v", err)
		return
	}
	if _, err := inventoryService.SetAlertThreshold(routines[1].ID, 3); err != nil {
		log.Printf("设置提醒阈值失败: %v", err)
	}

	fmt.Println("✅ 库存数据创建完成")
}

// seedValues 按条目类型生成当天的填写结果，隔几天留一个空位模拟漏填
func seedValues(leaves []db.RoutineItem, day int) []db.ItemValue {
	values := make([]db.ItemValue, 0, len(leaves))
	for i, leaf := range leaves {
		if day%5 == 4 && i == len(leaves)-1 {
			continue
		}

		value := db.ItemValue{ItemID: leaf.ID}
		switch leaf.Type {
		case db.ItemTypeCheckbox:
			checked := true
			value.Checked = &checked
		case db.ItemTypeNumber:
			number := float64(300 + (day%4)*100)
			value.Number = &number
		case db.ItemTypeScale:
			rating := 3 + day%3
			value.Rating = &rating
			if leaf.HasNotes && day%3 == 0 {
				value.Notes = "状态不错"
			}
		case db.ItemTypeText:
			text := fmt.Sprintf("第 %d 天的小结", 21-day)
			value.Text = &text
		default:
			continue
		}
		values = append(values, value)
	}
	return values
}
