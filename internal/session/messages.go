package session

import (
	"fmt"
	"strings"
)

const welcomeText = `*Welcome to Classmate!*

*Available Commands:*
/upload - Upload your timetable image
/settime - Set reminder time
/schedule - View your timetable
/tomorrow - Get tomorrow's classes
/delete - Delete all data and start fresh
/help - Get help

Ready to begin!`

const helpTextFormat = `*Commands:*
/upload - Upload timetable image
/settime - Set reminder time (format: "8:30 PM" or "20:30")
/schedule - View your timetable
/tomorrow - Get tomorrow's schedule
/delete - Delete all data and start fresh

*Usage:*
1. Upload your timetable image
2. Set your reminder time (in %s)
3. Ask questions about your schedule naturally

*Time Zone:* All times are in %s`

const uploadPrompt = `*Upload Your Timetable Image*

Make sure it is clear and readable.
Send it as a photo, not as a file.`

const (
	msgUploadFirst       = "Please use /upload command first to upload your timetable image."
	msgSendPhoto         = "Please send your timetable as a photo, or use /help to see the other commands."
	msgExtractFailed     = "Sorry, I couldn't extract text from the image. Please try with a clearer image."
	msgStructureFailed   = "Sorry, I couldn't process your timetable. Please try with a clearer image."
	msgStoreFailed       = "An error occurred while processing your image. Please try again."
	msgNoTimetable       = "No timetable found. Please upload your timetable first using /upload command."
	msgSetTimeNoTT       = "Please upload your timetable first using /upload command."
	msgNoTimetableYet    = "I don't have your timetable yet. Please use /upload to upload your timetable image first!"
	msgInvalidTime       = "Invalid time format. Please use formats like '8:30 PM', '8:30 AM', or '20:30'"
	msgNothingToDelete   = "No data found to delete. You can start fresh with /upload!"
	msgDeleteCancelled   = "*Deletion cancelled.* Your data is safe!"
	msgUnknownCommand    = "Unknown command. Send /help to see what I can do."
	msgUnknownCallback   = "That button is no longer valid."
	itemTimetable        = "Your stored timetable"
	itemReminder         = "Your daily reminder settings"
	deletedTimetableItem = "Timetable data"
	deletedReminderItem  = "Reminder settings"
)

func helpText(zone string) string {
	return fmt.Sprintf(helpTextFormat, zone, zone)
}

func setTimePrompt(zone, now, current string) string {
	var b strings.Builder
	b.WriteString("*Set Your Daily Reminder Time*\n\n")
	b.WriteString("Send me the time when you want to receive your daily reminder.\n\n")
	b.WriteString("*Examples:* 8:30 PM, 9:00 AM, 20:30\n\n")
	fmt.Fprintf(&b, "*Time Zone:* %s\n", zone)
	fmt.Fprintf(&b, "*Current Time:* %s", now)
	if current != "" {
		fmt.Fprintf(&b, "\n*Current Reminder:* %s", current)
	}
	return b.String()
}

func uploadSuccess(week string) string {
	return "*Timetable stored successfully!*\n\n" +
		"Here's your processed schedule:\n\n" +
		week +
		"\n\n*Next step:* Use /settime to set your daily reminder time!"
}

func reminderSet(at, zone string) string {
	return fmt.Sprintf("*Reminder time set successfully!*\n\nYou'll receive daily reminders at *%s %s*.\n\n*Setup Complete!* Your timetable assistant is ready!", at, zone)
}

func confirmDelete(items []string) string {
	return "*Confirm Data Deletion*\n\nThis will permanently delete:\n• " +
		strings.Join(items, "\n• ") +
		"\n\n*This action cannot be undone!*\n\nAre you sure you want to proceed?"
}

func deleted(items []string) string {
	list := "No data found"
	if len(items) > 0 {
		list = strings.Join(items, "\n• ")
	}
	return "*Data Deleted Successfully!*\n\nDeleted items:\n• " + list +
		"\n\n*You can now start fresh!*\nUse /upload to add a new timetable."
}
