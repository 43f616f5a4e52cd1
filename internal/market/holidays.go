package market

// defaultHolidays is the built-in KRX holiday table. It is data, not code:
// fixed national holidays, the resolved lunar holidays (Seollal, Buddha's
// Birthday, Chuseok) for the years the table covers, and any substitute
// holidays already worked out per the "Sunday holiday -> following Monday
// closed" rule. Extra closures (elections, year-end) are added at runtime
// via Calendar.RegisterClosure, not by editing this table.
var defaultHolidays = map[string]string{
	// 2023
	"2023-01-01": "New Year",
	"2023-01-21": "Seollal (eve)",
	"2023-01-22": "Seollal",
	"2023-01-23": "Seollal (substitute)",
	"2023-01-24": "Seollal (substitute holiday)",
	"2023-03-01": "Independence Movement Day",
	"2023-05-01": "Labour Day",
	"2023-05-05": "Children's Day",
	"2023-05-27": "Buddha's Birthday",
	"2023-06-06": "Memorial Day",
	"2023-08-15": "Liberation Day",
	"2023-09-28": "Chuseok (eve)",
	"2023-09-29": "Chuseok",
	"2023-09-30": "Chuseok (substitute)",
	"2023-10-02": "Temporary public holiday",
	"2023-10-03": "National Foundation Day",
	"2023-10-09": "Hangeul Day",
	"2023-12-25": "Christmas",

	// 2024
	"2024-01-01": "New Year",
	"2024-02-09": "Seollal (eve)",
	"2024-02-10": "Seollal",
	"2024-02-11": "Seollal (substitute)",
	"2024-02-12": "Seollal (substitute holiday)",
	"2024-03-01": "Independence Movement Day",
	"2024-04-10": "National Assembly election day",
	"2024-05-01": "Labour Day",
	"2024-05-05": "Children's Day",
	"2024-05-06": "Children's Day (substitute)",
	"2024-05-15": "Buddha's Birthday",
	"2024-06-06": "Memorial Day",
	"2024-08-15": "Liberation Day",
	"2024-09-16": "Chuseok (eve)",
	"2024-09-17": "Chuseok",
	"2024-09-18": "Chuseok (day after)",
	"2024-10-03": "National Foundation Day",
	"2024-10-06": "Chuseok (extended closure)",
	"2024-10-07": "Chuseok (substitute holiday)",
	"2024-10-09": "Hangeul Day",
	"2024-12-25": "Christmas",

	// 2025
	"2025-01-01": "New Year",
	"2025-01-27": "Temporary public holiday",
	"2025-01-28": "Seollal (eve)",
	"2025-01-29": "Seollal",
	"2025-01-30": "Seollal (day after)",
	"2025-03-01": "Independence Movement Day",
	"2025-03-03": "Independence Movement Day (substitute)",
	"2025-05-01": "Labour Day",
	"2025-05-05": "Children's Day / Buddha's Birthday",
	"2025-05-06": "Children's Day (substitute)",
	"2025-06-06": "Memorial Day",
	"2025-08-15": "Liberation Day",
	"2025-10-03": "National Foundation Day",
	"2025-10-05": "Chuseok (eve)",
	"2025-10-06": "Chuseok",
	"2025-10-07": "Chuseok (day after)",
	"2025-10-08": "Chuseok (substitute holiday)",
	"2025-10-09": "Hangeul Day",
	"2025-12-25": "Christmas",

	// 2026
	"2026-01-01": "New Year",
	"2026-02-16": "Seollal (eve)",
	"2026-02-17": "Seollal",
	"2026-02-18": "Seollal (day after)",
	"2026-03-01": "Independence Movement Day",
	"2026-03-02": "Independence Movement Day (substitute)",
	"2026-05-01": "Labour Day",
	"2026-05-05": "Children's Day",
	"2026-05-24": "Buddha's Birthday",
	"2026-05-25": "Buddha's Birthday (substitute)",
	"2026-06-06": "Memorial Day",
	"2026-08-15": "Liberation Day",
	"2026-08-17": "Liberation Day (substitute)",
	"2026-09-24": "Chuseok (eve)",
	"2026-09-25": "Chuseok",
	"2026-09-26": "Chuseok (day after)",
	"2026-10-03": "National Foundation Day",
	"2026-10-09": "Hangeul Day",
	"2026-12-25": "Christmas",
}
