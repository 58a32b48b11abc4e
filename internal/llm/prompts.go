package llm

const extractPrompt = `You are an OCR engine. Transcribe every piece of text visible in this timetable image exactly as it appears.
Keep the table layout readable: one row per line, cells separated by " | ".
Include day names, time ranges, subject codes, subject names, lab markers and room numbers.
Do not summarize, interpret or add anything that is not in the image.`

const structurePrompt = `You are a timetable processing assistant. Your task is to analyze the extracted text from a college timetable image and structure it into a clean, organized format.

Instructions:
1. Extract the weekly schedule for Monday to Saturday
2. Identify time slots and corresponding subjects/labs
3. Include subject codes, full names, and lab details
4. Format the output as a JSON structure with days as keys
5. For each day, list the time periods and subjects
6. Include break times if mentioned
7. Only include Monday to Saturday (ignore Sunday)

Expected JSON format:
{
    "Monday": [
        {
            "time": "9:00-9:55",
            "subject": "DSA",
            "full_name": "Data Structures and Algorithms",
            "type": "Theory",
            "room": "NC34"
        }
    ],
    "Tuesday": [...],
    ...
}

If you cannot clearly identify a schedule, return an empty JSON object {}.`

const structureRequestFormat = `Please analyze this extracted timetable text and structure it according to the format specified:

%s

Focus on Monday to Saturday only. Extract time slots, subjects, labs, and any room information available.`

const composePrompt = `You are a helpful timetable assistant. Based on the provided timetable information, answer the user's query in a clear and organized manner. Keep the answer short and use Telegram Markdown (*bold*) sparingly.`

const composeRequestFormat = `User Query: %s

%s

Please provide a clear, organized response to the user's query based on the timetable information above.`
