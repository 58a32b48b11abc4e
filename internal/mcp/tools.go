package mcp

import "github.com/mark3labs/mcp-go/mcp"

var userIDArg = mcp.WithString("user_id",
	mcp.Required(),
	mcp.Description("Chat user id that owns the timetable"),
)

var uploadToolDef = mcp.NewTool("timetable_upload",
	mcp.WithDescription("Extract a timetable from an image and store it, replacing any previous one."),
	userIDArg,
	mcp.WithString("image_base64",
		mcp.Required(),
		mcp.Description("Timetable image (PNG or JPEG), standard base64"),
	),
	mcp.WithDestructiveHintAnnotation(true),
)

var importToolDef = mcp.NewTool("timetable_import",
	mcp.WithDescription(`Store an already structured timetable: {"Monday": [{"time", "subject", "full_name", "type", "room"}], ...}.`),
	userIDArg,
	mcp.WithObject("timetable",
		mcp.Required(),
		mcp.Description("Day name to list of periods"),
	),
	mcp.WithDestructiveHintAnnotation(true),
)

var showToolDef = mcp.NewTool("timetable_show",
	mcp.WithDescription("Show the user's stored timetable, reminder time and session state."),
	userIDArg,
	mcp.WithReadOnlyHintAnnotation(true),
)

var tomorrowToolDef = mcp.NewTool("timetable_tomorrow",
	mcp.WithDescription("Show tomorrow's classes in the configured timezone."),
	userIDArg,
	mcp.WithReadOnlyHintAnnotation(true),
)

var askToolDef = mcp.NewTool("timetable_ask",
	mcp.WithDescription("Answer a free-text question about the user's timetable."),
	userIDArg,
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("e.g. When is my next DSA class?"),
	),
	mcp.WithReadOnlyHintAnnotation(true),
)

var reminderSetToolDef = mcp.NewTool("reminder_set",
	mcp.WithDescription("Set or replace the daily reminder time (8:30 PM, 08:30 AM or 20:30)."),
	userIDArg,
	mcp.WithString("time",
		mcp.Required(),
		mcp.Description("Time of day in the configured timezone"),
	),
)

var inboxToolDef = mcp.NewTool("reminder_inbox",
	mcp.WithDescription("Return reminders queued in the outbox for the user. Messages are removed unless peek is set."),
	userIDArg,
	mcp.WithBoolean("peek",
		mcp.Description("List without removing"),
	),
)

var deleteToolDef = mcp.NewTool("data_delete",
	mcp.WithDescription("Delete the user's timetable, reminder and stored record."),
	userIDArg,
	mcp.WithDestructiveHintAnnotation(true),
)
