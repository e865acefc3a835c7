package redis

const (
	// addRecordScript atomically adds accrued seconds to a day and indexes it
	addRecordScript = `
local day_key = KEYS[1]     -- skilltrack:day:{date}
local index_key = KEYS[2]   -- skilltrack:days

local date = ARGV[1]

local video = redis.call('HINCRBYFLOAT', day_key, 'video_time', ARGV[2])
local interaction = redis.call('HINCRBYFLOAT', day_key, 'interaction_time', ARGV[3])
local total = redis.call('HINCRBYFLOAT', day_key, 'total_time', ARGV[4])

redis.call('SADD', index_key, date)

return {video, interaction, total}
`

	// mergeMaxScript raises each field of each day to at least the given value.
	// ARGV is a flat list of (date, video, interaction, total) tuples.
	mergeMaxScript = `
local index_key = KEYS[1]   -- skilltrack:days
local prefix = KEYS[2]      -- skilltrack:day:

local fields = {'video_time', 'interaction_time', 'total_time'}

for i = 1, #ARGV, 4 do
  local date = ARGV[i]
  local day_key = prefix .. date

  for f = 1, 3 do
    local incoming = ARGV[i + f]
    local existing = redis.call('HGET', day_key, fields[f])
    if not existing or tonumber(incoming) > tonumber(existing) then
      redis.call('HSET', day_key, fields[f], incoming)
    end
  end

  redis.call('SADD', index_key, date)
end

return 'OK'
`
)
